package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"cachegate/internal/database/models"
	"cachegate/internal/metrics"
	"cachegate/internal/policy"
	"cachegate/internal/proxy"

	"github.com/pterm/pterm"
)

type fakeEventRepo struct {
	created []*models.InvalidationEvent
	failOn  bool
}

func (r *fakeEventRepo) Create(event *models.InvalidationEvent) error {
	if r.failOn {
		return errors.New("disk full")
	}
	event.ID = uint(len(r.created) + 1)
	r.created = append(r.created, event)
	return nil
}

func (r *fakeEventRepo) FindRecent(limit int) ([]*models.InvalidationEvent, error) {
	if limit <= 0 || limit > len(r.created) {
		limit = len(r.created)
	}
	out := make([]*models.InvalidationEvent, 0, limit)
	for i := len(r.created) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.created[i])
	}
	return out, nil
}

func (r *fakeEventRepo) CountByTarget(target string) (int64, error) {
	var n int64
	for _, e := range r.created {
		if e.Target == target {
			n++
		}
	}
	return n, nil
}

type fakePurger struct {
	targets []string
	err     error
}

func (p *fakePurger) Purge(ctx context.Context, target string) error {
	p.targets = append(p.targets, target)
	return p.err
}

func newTestService(t *testing.T, purger proxy.Purger, repo *fakeEventRepo, coldStart bool) (*Service, *metrics.Aggregator) {
	t.Helper()
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	table, err := policy.NewTable(policy.DefaultEntries())
	if err != nil {
		t.Fatalf("Failed to build policy table: %v", err)
	}
	agg := metrics.New(logger, 0, 0)
	return NewService(logger, table, purger, repo, agg, coldStart), agg
}

func TestService_GlobalInvalidation(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, agg := newTestService(t, purger, repo, false)

	event, err := svc.Invalidate(context.Background(), "*")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if event.Scope != ScopeGlobal {
		t.Errorf("Expected scope %q, got %q", ScopeGlobal, event.Scope)
	}
	if !event.PurgeOK {
		t.Error("Expected purge_ok")
	}
	if len(purger.targets) != 1 || purger.targets[0] != "*" {
		t.Errorf("Expected one purge of '*', got %v", purger.targets)
	}
	if len(repo.created) != 1 {
		t.Fatalf("Expected one audit event, got %d", len(repo.created))
	}
	if agg.Snapshot().Invalidations != 1 {
		t.Errorf("Expected invalidation counter 1, got %d", agg.Snapshot().Invalidations)
	}
}

func TestService_RouteInvalidation(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, _ := newTestService(t, purger, repo, false)

	event, err := svc.Invalidate(context.Background(), "/api/static")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if event.Scope != ScopeRoute {
		t.Errorf("Expected scope %q, got %q", ScopeRoute, event.Scope)
	}
	if event.Target != "/api/static" {
		t.Errorf("Expected target '/api/static', got %q", event.Target)
	}
}

func TestService_UnknownTargetRejected(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, agg := newTestService(t, purger, repo, false)

	// /api/static/logo.png resolves through the table but is not a
	// declared pattern; invalidation targets must match exactly.
	_, err := svc.Invalidate(context.Background(), "/api/static/logo.png")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("Expected ErrTargetNotFound, got %v", err)
	}

	// Nothing purged, nothing recorded.
	if len(purger.targets) != 0 {
		t.Errorf("Expected no purge for rejected target, got %v", purger.targets)
	}
	if len(repo.created) != 0 {
		t.Errorf("Expected no audit event for rejected target, got %d", len(repo.created))
	}
	if agg.Snapshot().Invalidations != 0 {
		t.Error("Expected invalidation counter untouched for rejected target")
	}
}

func TestService_FailedPurgeStillAudited(t *testing.T) {
	purger := &fakePurger{err: &proxy.UpstreamError{StatusCode: 502}}
	repo := &fakeEventRepo{}
	svc, agg := newTestService(t, purger, repo, false)

	event, err := svc.Invalidate(context.Background(), "*")

	var uerr *proxy.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Expected *proxy.UpstreamError, got %v", err)
	}
	if event == nil {
		t.Fatal("Expected event to be returned alongside the purge error")
	}
	if event.PurgeOK {
		t.Error("Expected purge_ok false")
	}
	if event.PurgeError == "" {
		t.Error("Expected purge_error to carry the failure reason")
	}
	if len(repo.created) != 1 {
		t.Errorf("Expected failed purge to be audited, got %d events", len(repo.created))
	}
	if agg.Snapshot().Invalidations != 1 {
		t.Error("Expected failed purge to still count as an invalidation")
	}
}

func TestService_ColdStartResetPreservesLatency(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, agg := newTestService(t, purger, repo, true)

	rec := metrics.Record{
		Timestamp:  time.Now(),
		Method:     "GET",
		Path:       "/api/static/a.css",
		Route:      "/api/static",
		StatusCode: 200,
		LatencyMs:  120,
		Status:     policy.StatusHit,
	}
	for i := 0; i < 10; i++ {
		agg.Ingest(rec)
	}

	if _, err := svc.Invalidate(context.Background(), "*"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	snap := agg.Snapshot()
	if snap.TotalRequests != 0 || snap.Hits != 0 {
		t.Errorf("Expected serve counters zeroed, got total=%d hits=%d",
			snap.TotalRequests, snap.Hits)
	}
	if snap.Latency.P95 != 120 {
		t.Errorf("Expected latency history preserved, got P95=%f", snap.Latency.P95)
	}
}

func TestService_RouteInvalidationLeavesCountersIntact(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, agg := newTestService(t, purger, repo, true)

	rec := metrics.Record{
		Timestamp:  time.Now(),
		Method:     "GET",
		Path:       "/api/static/a.css",
		Route:      "/api/static",
		StatusCode: 200,
		LatencyMs:  80,
		Status:     policy.StatusHit,
	}
	for i := 0; i < 10; i++ {
		agg.Ingest(rec)
	}

	if _, err := svc.Invalidate(context.Background(), "/api/static"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	// The cold-start window only applies to global purges: after a
	// route purge the drill-down must still sum to the global snapshot.
	snap := agg.Snapshot()
	if snap.TotalRequests != 10 || snap.Hits != 10 {
		t.Errorf("Expected global counters untouched, got total=%d hits=%d",
			snap.TotalRequests, snap.Hits)
	}
	route, ok := snap.PerRoute["/api/static"]
	if !ok {
		t.Fatal("Expected per-route bucket to survive a route purge")
	}
	if route.TotalRequests != 10 || route.Hits != 10 {
		t.Errorf("Expected route counters untouched, got total=%d hits=%d",
			route.TotalRequests, route.Hits)
	}
}

func TestService_Idempotent(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, agg := newTestService(t, purger, repo, true)

	var last *Event
	for i := 0; i < 3; i++ {
		event, err := svc.Invalidate(context.Background(), "/api/data")
		if err != nil {
			t.Fatalf("Invalidate %d failed: %v", i, err)
		}
		last = event
	}

	if last.TimesInvalidated != 3 {
		t.Errorf("Expected 3 recorded purges of the target, got %d", last.TimesInvalidated)
	}
	if len(repo.created) != 3 {
		t.Errorf("Expected 3 audit events, got %d", len(repo.created))
	}
	if agg.Snapshot().Invalidations != 3 {
		t.Errorf("Expected 3 counted invalidations, got %d", agg.Snapshot().Invalidations)
	}
}

func TestService_Recent(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{}
	svc, _ := newTestService(t, purger, repo, false)

	svc.Invalidate(context.Background(), "/api/static")
	svc.Invalidate(context.Background(), "*")

	events, err := svc.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Target != "*" {
		t.Errorf("Expected newest event first, got %q", events[0].Target)
	}
}

func TestService_AuditFailureDoesNotFailInvalidation(t *testing.T) {
	purger := &fakePurger{}
	repo := &fakeEventRepo{failOn: true}
	svc, _ := newTestService(t, purger, repo, false)

	event, err := svc.Invalidate(context.Background(), "*")
	if err != nil {
		t.Fatalf("Expected invalidation to survive audit store failure, got %v", err)
	}
	if event == nil || !event.PurgeOK {
		t.Error("Expected a successful event despite audit store failure")
	}
}
