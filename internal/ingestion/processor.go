package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"cachegate/internal/database/models"
	"cachegate/internal/database/repositories"
	"cachegate/internal/enrichment"
	"cachegate/internal/metrics"
	"cachegate/internal/parser/nginx"
	"cachegate/internal/policy"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// LineParser turns raw access log lines into events.
type LineParser interface {
	Name() string
	CanParse(line string) bool
	Parse(line string) (*nginx.AccessEvent, error)
}

// Processor tails the access log and feeds classified records into the
// aggregator. It wakes on file watcher events and on a poll ticker as a
// fallback, reads complete lines from the last persisted offset,
// resolves each request against the policy table, and persists the new
// offset after every counted batch so a restart never double-counts.
type Processor struct {
	logPath      string
	parser       LineParser
	table        *policy.Table
	offsets      repositories.LogOffsetRepository
	countries    *enrichment.CountryResolver
	aggregator   *metrics.Aggregator
	reader       *IncrementalReader
	watcher      *FileWatcher
	logger       *pterm.Logger
	batchSize    int
	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	statsMu        sync.Mutex
	totalProcessed int64
	startTime      time.Time
}

// NewProcessor creates a processor resuming from the offset stored for
// logPath. countries may be nil when GeoIP enrichment is not configured.
func NewProcessor(
	logPath string,
	parser LineParser,
	table *policy.Table,
	offsets repositories.LogOffsetRepository,
	countries *enrichment.CountryResolver,
	aggregator *metrics.Aggregator,
	logger *pterm.Logger,
	batchSize int,
	pollInterval time.Duration,
) (*Processor, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	offset, err := offsets.FindByPath(logPath)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		offset = &models.LogOffset{Path: logPath}
		if err := offsets.Save(offset); err != nil {
			logger.WithCaller().Error("Failed to create log offset record",
				logger.Args("path", logPath, "error", err))
			return nil, err
		}
		logger.Debug("Created offset record for new access log", logger.Args("path", logPath))
	} else if err != nil {
		logger.WithCaller().Error("Failed to load log offset",
			logger.Args("path", logPath, "error", err))
		return nil, err
	} else {
		logger.Info("Resuming access log ingestion",
			logger.Args("path", logPath, "position", offset.Position))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		logPath:      logPath,
		parser:       parser,
		table:        table,
		offsets:      offsets,
		countries:    countries,
		aggregator:   aggregator,
		reader:       NewIncrementalReader(logPath, offset.Position, offset.Inode, offset.LastLine, logger),
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
		startTime:    time.Now(),
	}, nil
}

// Start launches the ingestion loop. A failed watcher downgrades to
// poll-only ingestion instead of failing startup.
func (p *Processor) Start() {
	watcher, err := NewFileWatcher(p.logPath, p.logger)
	if err != nil {
		p.logger.Warn("File watcher unavailable, polling only",
			p.logger.Args("path", p.logPath, "error", err))
	} else {
		p.watcher = watcher
	}

	p.wg.Add(1)
	go p.run()
	p.logger.Info("Started access log processor",
		p.logger.Args("path", p.logPath, "parser", p.parser.Name(), "batch_size", p.batchSize))
}

// Stop drains outstanding lines and shuts the processor down.
func (p *Processor) Stop() {
	p.logger.Debug("Stopping access log processor", p.logger.Args("path", p.logPath))
	p.cancel()
	p.wg.Wait()
	if p.watcher != nil {
		p.watcher.Close()
	}
	p.logger.Info("Stopped access log processor", p.logger.Args("path", p.logPath))
}

// TotalProcessed returns how many records have been counted since start.
func (p *Processor) TotalProcessed() int64 {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.totalProcessed
}

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var watchEvents <-chan string
	if p.watcher != nil {
		watchEvents = p.watcher.Events()
	}

	// Catch up on lines written while we were down.
	p.drain()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return

		case <-watchEvents:
			p.drain()

		case <-ticker.C:
			p.drain()
		}
	}
}

// drain reads and counts batches until the file is exhausted.
func (p *Processor) drain() {
	for {
		lines, newPos, newInode, lastLine, err := p.reader.ReadBatch(p.batchSize)
		if err != nil {
			p.logger.WithCaller().Error("Failed to read from access log",
				p.logger.Args("path", p.logPath, "error", err))
			return
		}
		if len(lines) == 0 {
			return
		}

		processed := 0
		for _, line := range lines {
			if p.processLine(line) {
				processed++
			}
		}

		// Persist the offset only after the batch is in the aggregator.
		if err := p.offsets.UpdateTracking(p.logPath, newPos, uint64(newInode), lastLine); err != nil {
			p.logger.WithCaller().Error("Failed to persist log offset",
				p.logger.Args("path", p.logPath, "error", err))
		}
		p.reader.UpdatePosition(newPos, newInode, lastLine)

		p.statsMu.Lock()
		p.totalProcessed += int64(processed)
		totalProcessed := p.totalProcessed
		p.statsMu.Unlock()

		elapsed := time.Since(p.startTime)
		p.logger.Debug("Batch counted",
			p.logger.Args(
				"path", p.logPath,
				"batch_lines", len(lines),
				"batch_counted", processed,
				"total_processed", totalProcessed,
				"rate_per_sec", int(float64(totalProcessed)/elapsed.Seconds()),
			))

		if len(lines) < p.batchSize {
			return
		}
	}
}

// processLine parses, classifies and counts one line. Returns whether
// the line became a counted record.
func (p *Processor) processLine(line string) bool {
	event, err := p.parser.Parse(line)
	if err != nil {
		p.aggregator.RecordParseError()
		p.logger.Warn("Failed to parse access log line",
			p.logger.Args("path", p.logPath, "error", err, "line_preview", truncate(line, 100)))
		return false
	}

	decision := p.table.Resolve(event.Path)
	status := policy.Classify(event.CacheLabel, decision, event.UpstreamSeen)

	country := ""
	if p.countries != nil {
		country = p.countries.Resolve(event.ClientIP)
	}

	rec := metrics.Record{
		Timestamp:    event.Timestamp,
		Method:       event.Method,
		Path:         event.Path,
		Route:        decision.Pattern,
		StatusCode:   event.StatusCode,
		BytesSent:    event.BytesSent,
		LatencyMs:    event.RequestTimeMs,
		UpstreamMs:   event.UpstreamTimeMs,
		UpstreamSeen: event.UpstreamSeen,
		Status:       status,
		Country:      country,
	}

	// Ingest counts its own rejections under parse_errors.
	if err := p.aggregator.Ingest(rec); err != nil {
		p.logger.Debug("Record rejected by aggregator",
			p.logger.Args("path", event.Path, "error", err))
		return false
	}
	return true
}

// truncate truncates a string to maxLen characters for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
