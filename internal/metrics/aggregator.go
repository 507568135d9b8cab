package metrics

import (
	"fmt"
	"sync"
	"time"

	"cachegate/internal/policy"

	"github.com/pterm/pterm"
)

// ScopeAll addresses every route in Reset and ResetServeCounters calls.
const ScopeAll = "*"

// Record is one proxy-observed request, classified and ready for
// ingestion. Route is the resolved policy pattern; per-route counters are
// keyed by it, which keeps cardinality bounded by the policy table.
type Record struct {
	Timestamp    time.Time
	Method       string
	Path         string
	Route        string
	StatusCode   int
	BytesSent    int64
	LatencyMs    float64
	UpstreamMs   float64
	UpstreamSeen bool
	Status       policy.Status
	Country      string
}

// ValidationError marks a record the aggregator refused to count. Such
// records are tallied in parse_errors and excluded from every other
// counter, never silently dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// Percentiles is the latency read-out, nearest-rank method.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Counters is the per-scope read-out shared by the global snapshot and
// the per-route drill-down.
type Counters struct {
	TotalRequests int64       `json:"total_requests"`
	Hits          int64       `json:"hits"`
	Misses        int64       `json:"misses"`
	Bypasses      int64       `json:"bypasses"`
	Stale         int64       `json:"stale"`
	Expired       int64       `json:"expired"`
	Revalidated   int64       `json:"revalidated"`
	Errors5xx     int64       `json:"errors_5xx"`
	Errors4xx     int64       `json:"errors_4xx"`
	TotalBytes    int64       `json:"total_bytes"`
	HitRatio      float64     `json:"hit_ratio"`
	ErrorRate     float64     `json:"error_rate"`
	Latency       Percentiles `json:"latency_percentiles"`
	SampleCount   int         `json:"sample_count"`
}

// Snapshot is an immutable point-in-time copy of the aggregator state.
// It never aliases live counters: mutating a snapshot cannot affect the
// aggregator and vice versa.
type Snapshot struct {
	Counters
	ParseErrors   int64               `json:"parse_errors"`
	Invalidations int64               `json:"invalidations"`
	PerRoute      map[string]Counters `json:"per_route"`
	Countries     map[string]int64    `json:"countries,omitempty"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// bucketState holds the live counters and latency sample for one scope.
type bucketState struct {
	total       int64
	hits        int64
	misses      int64
	bypasses    int64
	stale       int64
	expired     int64
	revalidated int64
	errors5xx   int64
	errors4xx   int64
	totalBytes  int64
	sample      *latencySample
}

func newBucketState(sampleCap int) *bucketState {
	return &bucketState{sample: newLatencySample(sampleCap)}
}

func (b *bucketState) record(rec *Record) {
	b.total++
	switch rec.Status {
	case policy.StatusHit:
		b.hits++
	case policy.StatusMiss:
		b.misses++
	case policy.StatusBypass:
		b.bypasses++
	case policy.StatusStale:
		b.stale++
	case policy.StatusExpired:
		b.expired++
	case policy.StatusRevalidated:
		b.revalidated++
	}
	switch {
	case rec.StatusCode >= 500:
		b.errors5xx++
	case rec.StatusCode >= 400:
		b.errors4xx++
	}
	b.totalBytes += rec.BytesSent
	b.sample.add(rec.LatencyMs)
}

// resetServe zeroes the counters but keeps the latency sample: an
// invalidation does not retroactively change the serving speed
// distribution, only the hit/miss makeup of the next window.
func (b *bucketState) resetServe() {
	sample := b.sample
	*b = bucketState{sample: sample}
}

func (b *bucketState) counters() Counters {
	c := Counters{
		TotalRequests: b.total,
		Hits:          b.hits,
		Misses:        b.misses,
		Bypasses:      b.bypasses,
		Stale:         b.stale,
		Expired:       b.expired,
		Revalidated:   b.revalidated,
		Errors5xx:     b.errors5xx,
		Errors4xx:     b.errors4xx,
		TotalBytes:    b.totalBytes,
		Latency: Percentiles{
			P50: b.sample.percentile(50),
			P95: b.sample.percentile(95),
			P99: b.sample.percentile(99),
		},
		SampleCount: b.sample.size(),
	}
	if b.total > 0 {
		c.HitRatio = float64(b.hits) / float64(b.total)
		c.ErrorRate = float64(b.errors5xx) / float64(b.total)
	}
	return c
}

// Aggregator consumes classified records and maintains running counters
// and latency samples, globally and per route. All mutations (Ingest,
// Reset*, Record*) and Snapshot reads are serialized by one mutex, so a
// reader observes either all or nothing of any given call.
type Aggregator struct {
	mu             sync.Mutex
	logger         *pterm.Logger
	global         *bucketState
	routes         map[string]*bucketState
	countries      map[string]int64
	parseErrors    int64
	invalidations  int64
	sampleCap      int
	routeSampleCap int
}

// New creates an aggregator. sampleCap bounds the global latency sample,
// routeSampleCap each per-route sample; non-positive values fall back to
// 50_000 and 10_000.
func New(logger *pterm.Logger, sampleCap, routeSampleCap int) *Aggregator {
	if sampleCap <= 0 {
		sampleCap = 50_000
	}
	if routeSampleCap <= 0 {
		routeSampleCap = 10_000
	}
	return &Aggregator{
		logger:         logger,
		global:         newBucketState(sampleCap),
		routes:         make(map[string]*bucketState),
		countries:      make(map[string]int64),
		sampleCap:      sampleCap,
		routeSampleCap: routeSampleCap,
	}
}

// Ingest validates and counts one record. Records with negative
// latency/bytes, malformed timestamps or out-of-range status codes are
// rejected with a *ValidationError and tallied under parse_errors.
func (a *Aggregator) Ingest(rec Record) error {
	if err := validate(&rec); err != nil {
		a.mu.Lock()
		a.parseErrors++
		a.mu.Unlock()
		a.logger.Debug("Rejected record", a.logger.Args("error", err, "path", rec.Path))
		return err
	}

	route := rec.Route
	if route == "" {
		route = "/"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.global.record(&rec)

	rb, ok := a.routes[route]
	if !ok {
		rb = newBucketState(a.routeSampleCap)
		a.routes[route] = rb
	}
	rb.record(&rec)

	if rec.Country != "" {
		a.countries[rec.Country]++
	}
	return nil
}

func validate(rec *Record) *ValidationError {
	if rec.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "missing or malformed"}
	}
	if rec.LatencyMs < 0 {
		return &ValidationError{Field: "request_latency_ms", Reason: "must not be negative"}
	}
	if rec.BytesSent < 0 {
		return &ValidationError{Field: "bytes_sent", Reason: "must not be negative"}
	}
	if rec.UpstreamSeen && rec.UpstreamMs < 0 {
		return &ValidationError{Field: "upstream_time_ms", Reason: "must not be negative"}
	}
	if rec.StatusCode < 100 || rec.StatusCode >= 600 {
		return &ValidationError{Field: "status_code", Reason: "out of range 100-599"}
	}
	return nil
}

// RecordParseError counts a raw log line that never became a record.
func (a *Aggregator) RecordParseError() {
	a.mu.Lock()
	a.parseErrors++
	a.mu.Unlock()
}

// RecordInvalidation counts an invalidation event for the snapshot.
// Audit details live in the invalidation event store, not here.
func (a *Aggregator) RecordInvalidation() {
	a.mu.Lock()
	a.invalidations++
	a.mu.Unlock()
}

// Snapshot returns an immutable deep copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Counters:      a.global.counters(),
		ParseErrors:   a.parseErrors,
		Invalidations: a.invalidations,
		PerRoute:      make(map[string]Counters, len(a.routes)),
		GeneratedAt:   time.Now(),
	}
	for route, rb := range a.routes {
		snap.PerRoute[route] = rb.counters()
	}
	if len(a.countries) > 0 {
		snap.Countries = make(map[string]int64, len(a.countries))
		for country, n := range a.countries {
			snap.Countries[country] = n
		}
	}
	return snap
}

// Reset zeroes counters and discards latency samples for one route
// pattern, or for everything when scope is "*". The whole reset happens
// under the aggregator lock, so concurrent readers never observe a
// partially-reset state.
func (a *Aggregator) Reset(scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if scope == ScopeAll {
		a.global = newBucketState(a.sampleCap)
		a.routes = make(map[string]*bucketState)
		a.countries = make(map[string]int64)
		a.parseErrors = 0
		a.invalidations = 0
		a.logger.Info("Aggregator fully reset")
		return
	}

	delete(a.routes, scope)
	a.logger.Info("Route counters reset", a.logger.Args("route", scope))
}

// ResetServeCounters zeroes the hit/miss/bypass/stale/expired/revalidated
// buckets (and the totals they are measured against) while preserving
// latency history. Used when a global invalidation opens a cold-cache
// measurement window.
func (a *Aggregator) ResetServeCounters(scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if scope == ScopeAll {
		a.global.resetServe()
		for _, rb := range a.routes {
			rb.resetServe()
		}
		a.logger.Info("Serve counters reset, latency history preserved")
		return
	}

	if rb, ok := a.routes[scope]; ok {
		rb.resetServe()
		a.logger.Info("Route serve counters reset", a.logger.Args("route", scope))
	}
}
