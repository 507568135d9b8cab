package nginx

import (
	"time"

	"cachegate/internal/policy"
)

// AccessEvent is one parsed line of the proxy access log.
type AccessEvent struct {
	Timestamp time.Time
	ClientIP  string

	// Request line
	Method   string
	Path     string
	Query    string
	Protocol string

	// Response
	StatusCode int
	BytesSent  int64

	// Timing. RequestTimeMs is the end-to-end latency the proxy observed.
	// UpstreamTimeMs is only meaningful when UpstreamSeen is true; the
	// proxy logs "-" for responses served entirely from cache.
	RequestTimeMs  float64
	UpstreamTimeMs float64
	UpstreamSeen   bool

	// CacheLabel is the proxy-provided cache status, "" when the proxy
	// did not label the line (older log formats).
	CacheLabel policy.Status
}
