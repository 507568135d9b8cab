package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cachegate/internal/api"
	"cachegate/internal/api/handlers"
	"cachegate/internal/banner"
	"cachegate/internal/config"
	"cachegate/internal/database"
	"cachegate/internal/database/repositories"
	"cachegate/internal/enrichment"
	"cachegate/internal/gate"
	"cachegate/internal/ingestion"
	"cachegate/internal/invalidation"
	"cachegate/internal/metrics"
	"cachegate/internal/parser/nginx"
	"cachegate/internal/policy"
	"cachegate/internal/proxy"

	"github.com/pterm/pterm"
)

func main() {
	// Initialize logger with INFO level as a sensible default
	// We'll reconfigure the level after loading the configuration (LOG_LEVEL)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	// Print banner
	banner.Print()

	logger.Info("Initializing CacheGate - Edge Cache Metrics & Release Gating...")

	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}

	// Apply configured log level from environment variable LOG_LEVEL (default: info)
	// Supported values: trace, debug, info, warn, error, fatal
	lvl := strings.ToLower(cfg.LogLevel)
	var ptermLevel pterm.LogLevel
	switch lvl {
	case "trace":
		ptermLevel = pterm.LogLevelTrace
	case "debug":
		ptermLevel = pterm.LogLevelDebug
	case "info":
		ptermLevel = pterm.LogLevelInfo
	case "warn", "warning":
		ptermLevel = pterm.LogLevelWarn
	case "error":
		ptermLevel = pterm.LogLevelError
	case "fatal":
		ptermLevel = pterm.LogLevelFatal
	default:
		ptermLevel = pterm.LogLevelInfo
	}
	logger = pterm.DefaultLogger.WithLevel(ptermLevel)
	logger.Debug("Log level set", logger.Args("level", lvl))

	logger.Debug("Configuration loaded",
		logger.Args(
			"db_path", cfg.Database.Path,
			"server_port", cfg.Server.Port,
			"access_log", cfg.AccessLog.Path,
			"geoip_enabled", cfg.GeoIP.Enabled,
		))

	// Load the cache policy table (validated: must include the "/" entry)
	entries := policy.DefaultEntries()
	if cfg.Policy.File != "" {
		entries, err = policy.LoadFile(cfg.Policy.File)
		if err != nil {
			logger.WithCaller().Fatal("Failed to load policy table", logger.Args("file", cfg.Policy.File, "error", err))
		}
		logger.Info("Loaded policy table", logger.Args("file", cfg.Policy.File, "entries", len(entries)))
	} else {
		logger.Info("Using built-in policy table", logger.Args("entries", len(entries)))
	}
	table, err := policy.NewTable(entries)
	if err != nil {
		logger.WithCaller().Fatal("Invalid policy table", logger.Args("error", err))
	}

	// Initialize database connection with configured settings
	db, err := database.NewConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to connect to database", logger.Args("error", err))
	}

	// Initialize repositories
	logger.Debug("Initializing repositories...")
	eventRepo := repositories.NewInvalidationEventRepository(db)
	offsetRepo := repositories.NewLogOffsetRepository(db)

	// Initialize GeoIP country resolver (optional)
	var countries *enrichment.CountryResolver
	if cfg.GeoIP.Enabled {
		countries = enrichment.NewCountryResolver(cfg.GeoIP.CountryDBPath, logger, cfg.GeoIP.CacheSize)
	} else {
		logger.Info("GeoIP enrichment disabled by configuration")
	}

	// Initialize the metrics aggregator
	aggregator := metrics.New(logger, cfg.Metrics.LatencySampleCap, cfg.Metrics.RouteLatencySampleCap)

	// Initialize the release gate evaluator
	evaluator := gate.NewEvaluator(logger, gate.Thresholds{
		HitRatioMin:  cfg.Gate.HitRatioMin,
		P95MaxMs:     cfg.Gate.P95MaxMs,
		ErrorRateMax: cfg.Gate.ErrorRateMax,
	})

	// Initialize the proxy purger; audit-only when no endpoint is set
	var purger proxy.Purger
	if cfg.Invalidation.PurgeURL != "" {
		purger = proxy.NewHTTPPurger(logger, cfg.Invalidation.PurgeURL, cfg.Invalidation.PurgeTimeout)
		logger.Info("Proxy purge endpoint configured", logger.Args("url", cfg.Invalidation.PurgeURL))
	} else {
		purger = proxy.NoopPurger{}
		logger.Warn("No PURGE_URL configured - invalidations are audit-only")
	}

	invalidationService := invalidation.NewService(
		logger,
		table,
		purger,
		eventRepo,
		aggregator,
		cfg.Invalidation.ColdStartReset,
	)

	// Initialize the access log processor
	logger.Debug("Initializing access log processor...")
	processor, err := ingestion.NewProcessor(
		cfg.AccessLog.Path,
		nginx.NewParser(logger),
		table,
		offsetRepo,
		countries,
		aggregator,
		logger,
		cfg.AccessLog.BatchSize,
		cfg.AccessLog.PollInterval,
	)
	if err != nil {
		logger.WithCaller().Fatal("Failed to initialize access log processor", logger.Args("error", err))
	}

	logger.Info("Starting ingestion...")
	processor.Start()

	// Initialize web server with configured settings
	logger.Info("Initializing web server...")
	metricsHandler := handlers.NewMetricsHandler(aggregator, evaluator, table, logger)
	invalidationHandler := handlers.NewInvalidationHandler(invalidationService, logger)
	webServer := api.NewServer(&api.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Production: cfg.Server.Production,
	}, metricsHandler, invalidationHandler, logger)

	// Start web server in goroutine
	go func() {
		if err := webServer.Run(); err != nil {
			logger.WithCaller().Error("Web server error", logger.Args("error", err))
		}
	}()

	logger.Info("🚦 CacheGate is running",
		logger.Args(
			"url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port),
			"access_log", cfg.AccessLog.Path,
		))

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutdown signal received, stopping services...")

	// Stop ingestion first so counters stop moving before the API goes away
	logger.Debug("Stopping access log processor...")
	processor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Debug("Stopping web server...")
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.WithCaller().Error("Web server shutdown error", logger.Args("error", err))
	} else {
		logger.Info("Web server stopped successfully")
	}

	if countries != nil {
		countries.Close()
	}

	logger.Info("CacheGate stopped gracefully")
}
