package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Status is the cache serve classification for a single request.
type Status string

const (
	StatusHit         Status = "HIT"
	StatusMiss        Status = "MISS"
	StatusBypass      Status = "BYPASS"
	StatusStale       Status = "STALE"
	StatusExpired     Status = "EXPIRED"
	StatusRevalidated Status = "REVALIDATED"
)

// ErrNoDefaultEntry is returned when a policy table is built without the
// catch-all "/" entry. Lookup totality depends on it, so this is a fatal
// configuration error at startup.
var ErrNoDefaultEntry = errors.New("policy table has no default \"/\" entry")

// Entry is one route rule: a path prefix mapped to cache attributes.
// MaxAgeSeconds == 0 means the route is never cached (every request is a
// bypass). Revalidate is informational: the proxy enforces conditional
// revalidation, we only classify the labels it emits.
type Entry struct {
	Pattern       string `json:"pattern"`
	MaxAgeSeconds int    `json:"max_age_seconds"`
	Revalidate    bool   `json:"revalidate"`
}

// Decision is the effective cache behavior for a resolved path.
type Decision struct {
	Pattern    string        `json:"pattern"`
	MaxAge     time.Duration `json:"max_age"`
	Revalidate bool          `json:"revalidate"`
	Bypass     bool          `json:"bypass"`
}

// Table is an ordered set of route rules. Declaration order is preserved
// because it breaks ties between patterns of equal length.
type Table struct {
	entries []Entry
}

// NewTable validates the entries and builds a lookup table.
func NewTable(entries []Entry) (*Table, error) {
	hasDefault := false
	for i, e := range entries {
		if e.Pattern == "" || !strings.HasPrefix(e.Pattern, "/") {
			return nil, fmt.Errorf("policy entry %d: pattern %q must start with \"/\"", i, e.Pattern)
		}
		if e.MaxAgeSeconds < 0 {
			return nil, fmt.Errorf("policy entry %d (%s): max_age_seconds must not be negative", i, e.Pattern)
		}
		if e.Pattern == "/" {
			hasDefault = true
		}
	}
	if !hasDefault {
		return nil, ErrNoDefaultEntry
	}

	table := &Table{entries: make([]Entry, len(entries))}
	copy(table.entries, entries)
	return table, nil
}

// DefaultEntries mirrors the reference deployment: long-lived static
// content, short-lived revalidated dynamic content, an uncacheable route,
// moderately cached data, and an uncached catch-all.
func DefaultEntries() []Entry {
	return []Entry{
		{Pattern: "/api/static", MaxAgeSeconds: 3600},
		{Pattern: "/api/dynamic", MaxAgeSeconds: 60, Revalidate: true},
		{Pattern: "/api/no-cache", MaxAgeSeconds: 0},
		{Pattern: "/api/data", MaxAgeSeconds: 300},
		{Pattern: "/", MaxAgeSeconds: 0},
	}
}

// LoadFile reads a JSON array of entries from path.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return entries, nil
}

// Resolve maps a request path to its effective cache decision. Among all
// entries whose pattern is a prefix of the path, the longest pattern wins;
// equal lengths fall back to declaration order (first wins). The default
// "/" entry guarantees a match always exists, so Resolve is total.
func (t *Table) Resolve(path string) Decision {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	best := -1
	for i, e := range t.entries {
		if !strings.HasPrefix(path, e.Pattern) {
			continue
		}
		if best == -1 || len(e.Pattern) > len(t.entries[best].Pattern) {
			best = i
		}
	}

	e := t.entries[best]
	return Decision{
		Pattern:    e.Pattern,
		MaxAge:     time.Duration(e.MaxAgeSeconds) * time.Second,
		Revalidate: e.Revalidate,
		Bypass:     e.MaxAgeSeconds == 0,
	}
}

// HasPattern reports whether the table contains an entry with exactly this
// pattern. Invalidation targets are validated against patterns, not paths:
// per-route counters and purges are keyed by pattern.
func (t *Table) HasPattern(pattern string) bool {
	for _, e := range t.entries {
		if e.Pattern == pattern {
			return true
		}
	}
	return false
}

// Entries returns a copy of the table in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ParseStatus normalizes a proxy-provided cache status label. UPDATING
// (emitted by older proxy configs) is folded into EXPIRED. Unknown or
// empty labels return "" so the caller can fall back to Classify.
func ParseStatus(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "HIT":
		return StatusHit
	case "MISS":
		return StatusMiss
	case "BYPASS":
		return StatusBypass
	case "STALE":
		return StatusStale
	case "EXPIRED", "UPDATING":
		return StatusExpired
	case "REVALIDATED":
		return StatusRevalidated
	default:
		return ""
	}
}

// Classify resolves the cache status for a record exactly once. A
// proxy-provided label wins; otherwise the status is derived from the
// policy decision and the presence of an upstream timing: a bypass route
// always bypasses, an upstream round-trip means a miss, and a pure cache
// serve (no upstream time) is a hit.
func Classify(label Status, dec Decision, upstreamSeen bool) Status {
	if label != "" {
		return label
	}
	if dec.Bypass {
		return StatusBypass
	}
	if upstreamSeen {
		return StatusMiss
	}
	return StatusHit
}
