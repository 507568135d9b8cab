package invalidation

import (
	"context"
	"errors"
	"time"

	"cachegate/internal/database/models"
	"cachegate/internal/database/repositories"
	"cachegate/internal/metrics"
	"cachegate/internal/policy"
	"cachegate/internal/proxy"

	"github.com/pterm/pterm"
)

// ErrTargetNotFound is returned when an invalidation names a route
// pattern the policy table does not declare. "*" is always valid.
var ErrTargetNotFound = errors.New("invalidation target not found in policy table")

// Scope labels stored on audit events.
const (
	ScopeGlobal = "global"
	ScopeRoute  = "route"
)

// Event is the API-facing view of one invalidation.
type Event struct {
	ID         uint      `json:"id"`
	Target     string    `json:"target"`
	Scope      string    `json:"scope"`
	IssuedAt   time.Time `json:"issued_at"`
	PurgeOK    bool      `json:"purge_ok"`
	PurgeError string    `json:"purge_error,omitempty"`

	// TimesInvalidated counts audit events for this target, the one at
	// hand included. Values above 1 flag repeat purges of a cold target.
	TimesInvalidated int64 `json:"times_invalidated"`
}

// Service validates invalidation targets, purges the edge proxy, keeps
// the audit trail and, on a global purge, resets serve counters so
// post-invalidation metrics measure the cold cache instead of averaging
// it away.
type Service struct {
	logger         *pterm.Logger
	table          *policy.Table
	purger         proxy.Purger
	events         repositories.InvalidationEventRepository
	aggregator     *metrics.Aggregator
	coldStartReset bool
}

func NewService(
	logger *pterm.Logger,
	table *policy.Table,
	purger proxy.Purger,
	events repositories.InvalidationEventRepository,
	aggregator *metrics.Aggregator,
	coldStartReset bool,
) *Service {
	return &Service{
		logger:         logger,
		table:          table,
		purger:         purger,
		events:         events,
		aggregator:     aggregator,
		coldStartReset: coldStartReset,
	}
}

// Invalidate drops cached objects for target: "*" for everything, or an
// exact route pattern from the policy table. Unknown patterns return
// ErrTargetNotFound before anything is purged or recorded. The audit
// event is persisted and counted even when the proxy purge fails; in
// that case the event is returned together with the purge error.
// Invalidating an already-cold target is a no-op at the proxy and is
// still recorded, so repeated calls are safe.
func (s *Service) Invalidate(ctx context.Context, target string) (*Event, error) {
	scope := ScopeGlobal
	if target != metrics.ScopeAll {
		if !s.table.HasPattern(target) {
			s.logger.Warn("Rejected invalidation for unknown target",
				s.logger.Args("target", target))
			return nil, ErrTargetNotFound
		}
		scope = ScopeRoute
	}

	issuedAt := time.Now()
	purgeErr := s.purger.Purge(ctx, target)

	record := &models.InvalidationEvent{
		Target:   target,
		Scope:    scope,
		IssuedAt: issuedAt,
		PurgeOK:  purgeErr == nil,
	}
	if purgeErr != nil {
		record.PurgeError = purgeErr.Error()
	}

	if err := s.events.Create(record); err != nil {
		// The purge already happened; losing the audit row is worth a
		// loud log but not a failed invalidation.
		s.logger.WithCaller().Error("Failed to persist invalidation event",
			s.logger.Args("target", target, "error", err))
	}

	s.aggregator.RecordInvalidation()
	// Only a global purge opens a cold-cache measurement window; a
	// route-scoped purge must leave the per-route counters summing to
	// the global snapshot.
	if s.coldStartReset && scope == ScopeGlobal {
		s.aggregator.ResetServeCounters(metrics.ScopeAll)
	}

	event := toEvent(record)
	if count, err := s.events.CountByTarget(target); err == nil {
		event.TimesInvalidated = count
	}
	if purgeErr != nil {
		s.logger.Error("Invalidation recorded with failed purge",
			s.logger.Args("target", target, "scope", scope, "error", purgeErr))
		return event, purgeErr
	}

	s.logger.Info("Invalidation completed",
		s.logger.Args("target", target, "scope", scope, "cold_start_reset", s.coldStartReset))
	return event, nil
}

// Recent returns the newest audit events, newest first.
func (s *Service) Recent(limit int) ([]*Event, error) {
	records, err := s.events.FindRecent(limit)
	if err != nil {
		return nil, err
	}
	events := make([]*Event, 0, len(records))
	for _, record := range records {
		events = append(events, toEvent(record))
	}
	return events, nil
}

func toEvent(record *models.InvalidationEvent) *Event {
	return &Event{
		ID:         record.ID,
		Target:     record.Target,
		Scope:      record.Scope,
		IssuedAt:   record.IssuedAt,
		PurgeOK:    record.PurgeOK,
		PurgeError: record.PurgeError,
	}
}
