package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pterm/pterm"
)

// UpstreamError is returned when the edge proxy rejected or never
// answered a purge request. The invalidation is still recorded locally;
// the caller decides how to surface the degraded purge.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy purge failed: %v", e.Err)
	}
	return fmt.Sprintf("proxy purge failed: unexpected status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Purger asks the edge proxy to drop cached objects for a target: a
// route pattern, or "*" for everything.
type Purger interface {
	Purge(ctx context.Context, target string) error
}

// HTTPPurger POSTs purge requests to the proxy's management endpoint.
type HTTPPurger struct {
	logger  *pterm.Logger
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPPurger creates a purger for the given management URL. A
// non-positive timeout defaults to 5 seconds.
func NewHTTPPurger(logger *pterm.Logger, url string, timeout time.Duration) *HTTPPurger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPurger{
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		url:     url,
		timeout: timeout,
	}
}

type purgeRequest struct {
	Target string `json:"target"`
}

// Purge sends the purge and treats any 2xx answer as success.
func (p *HTTPPurger) Purge(ctx context.Context, target string) error {
	body, err := json.Marshal(purgeRequest{Target: target})
	if err != nil {
		return &UpstreamError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return &UpstreamError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("Proxy purge request failed",
			p.logger.Args("target", target, "error", err))
		return &UpstreamError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Error("Proxy rejected purge",
			p.logger.Args("target", target, "status", resp.StatusCode))
		return &UpstreamError{StatusCode: resp.StatusCode}
	}

	p.logger.Debug("Proxy purge accepted",
		p.logger.Args(
			"target", target,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		))
	return nil
}

// NoopPurger is used when no proxy management endpoint is configured;
// invalidations are then audit-only.
type NoopPurger struct{}

func (NoopPurger) Purge(ctx context.Context, target string) error {
	return nil
}
