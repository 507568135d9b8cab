package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pterm/pterm"
)

func newTestLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
}

func TestHTTPPurger_SendsTarget(t *testing.T) {
	var got purgeRequest
	var method, contentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	purger := NewHTTPPurger(newTestLogger(), srv.URL, time.Second)
	if err := purger.Purge(context.Background(), "/api/static"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if method != http.MethodPost {
		t.Errorf("Expected POST, got %s", method)
	}
	if contentType != "application/json" {
		t.Errorf("Expected application/json, got %s", contentType)
	}
	if got.Target != "/api/static" {
		t.Errorf("Expected target '/api/static', got %q", got.Target)
	}
}

func TestHTTPPurger_Non2xxIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	purger := NewHTTPPurger(newTestLogger(), srv.URL, time.Second)
	err := purger.Purge(context.Background(), "*")
	if err == nil {
		t.Fatal("Expected error for 502 response")
	}

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Expected *UpstreamError, got %T", err)
	}
	if uerr.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", uerr.StatusCode)
	}
}

func TestHTTPPurger_UnreachableProxy(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	purger := NewHTTPPurger(newTestLogger(), url, 500*time.Millisecond)
	err := purger.Purge(context.Background(), "*")

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Expected *UpstreamError, got %v", err)
	}
	if uerr.Unwrap() == nil {
		t.Error("Expected wrapped transport error")
	}
}

func TestHTTPPurger_HonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	purger := NewHTTPPurger(newTestLogger(), srv.URL, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := purger.Purge(ctx, "*"); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestNoopPurger(t *testing.T) {
	if err := (NoopPurger{}).Purge(context.Background(), "*"); err != nil {
		t.Errorf("NoopPurger must never fail, got %v", err)
	}
}
