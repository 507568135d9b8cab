package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// GeoIP Configuration
	GeoIP GeoIPConfig

	// Log configuration
	LogLevel string

	// Access Log Configuration
	AccessLog AccessLogConfig

	// Cache Policy Configuration
	Policy PolicyConfig

	// Release Gate Configuration
	Gate GateConfig

	// Invalidation Configuration
	Invalidation InvalidationConfig

	// Server Configuration
	Server ServerConfig

	// Metrics Configuration
	Metrics MetricsConfig
}

// DatabaseConfig contains database-related settings
type DatabaseConfig struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// GeoIPConfig contains GeoIP database settings
type GeoIPConfig struct {
	CountryDBPath string
	CacheSize     int
	Enabled       bool
}

// AccessLogConfig contains access log ingestion settings
type AccessLogConfig struct {
	Path         string
	BatchSize    int
	PollInterval time.Duration
}

// PolicyConfig contains the cache policy table source
type PolicyConfig struct {
	// File is a JSON policy table; empty means the built-in defaults.
	File string
}

// GateConfig contains release gate thresholds
type GateConfig struct {
	HitRatioMin  float64
	P95MaxMs     float64
	ErrorRateMax float64
}

// InvalidationConfig contains proxy purge settings
type InvalidationConfig struct {
	// PurgeURL is the proxy management endpoint; empty disables purging.
	PurgeURL       string
	PurgeTimeout   time.Duration
	ColdStartReset bool
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host       string
	Port       int
	Production bool
}

// MetricsConfig contains aggregator tuning settings
type MetricsConfig struct {
	LatencySampleCap      int
	RouteLatencySampleCap int
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:         getEnv("DB_PATH", "cachegate.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 3),
			ConnMaxLife:  getEnvAsDuration("DB_CONN_MAX_LIFE", time.Hour),
		},
		GeoIP: GeoIPConfig{
			CountryDBPath: getEnv("GEOIP_COUNTRY_DB", ""),
			CacheSize:     getEnvAsInt("GEOIP_CACHE_SIZE", 10000),
			Enabled:       getEnvAsBool("GEOIP_ENABLED", true),
		},
		AccessLog: AccessLogConfig{
			Path:         getEnv("ACCESS_LOG_PATH", "logs/access.log"),
			BatchSize:    getEnvAsInt("BATCH_SIZE", 1000),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", time.Second),
		},
		Policy: PolicyConfig{
			File: getEnv("POLICY_FILE", ""),
		},
		Gate: GateConfig{
			HitRatioMin:  getEnvAsFloat("GATE_HIT_RATIO_MIN", 0.80),
			P95MaxMs:     getEnvAsFloat("GATE_P95_MAX_MS", 200),
			ErrorRateMax: getEnvAsFloat("GATE_ERROR_RATE_MAX", 0.01),
		},
		Invalidation: InvalidationConfig{
			PurgeURL:       getEnv("PURGE_URL", ""),
			PurgeTimeout:   getEnvAsDuration("PURGE_TIMEOUT", 5*time.Second),
			ColdStartReset: getEnvAsBool("INVALIDATION_COLD_START_RESET", true),
		},
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("SERVER_PORT", 8080),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
		},
		Metrics: MetricsConfig{
			LatencySampleCap:      getEnvAsInt("LATENCY_SAMPLE_CAP", 50000),
			RouteLatencySampleCap: getEnvAsInt("ROUTE_LATENCY_SAMPLE_CAP", 10000),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
