package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/metrics"
	"github.com/voxlate/dubmeter/internal/storage"
)

const (
	// DefaultDailyQuotaMinutes is the free-tier daily allowance.
	DefaultDailyQuotaMinutes = 5.0

	// syncTriggerTimeout bounds the fire-and-forget sync after a
	// session end.
	syncTriggerTimeout = 30 * time.Second
)

// Tracker owns the live usage record: session start/end accounting,
// lazy day rollover, quota queries, and reconciliation with the
// backend-authoritative total.
//
// All operations serialize on an internal mutex so that interleaved
// callers (API handlers, the periodic sync) never lose a
// read-modify-write cycle against the store.
type Tracker struct {
	store  storage.UsageStore
	clock  Clock
	quota  float64
	syncer Syncer
	logger zerolog.Logger
	mu     sync.Mutex
}

// Config holds tracker configuration.
type Config struct {
	DailyQuotaMinutes float64
}

// NewTracker creates a new usage tracker.
func NewTracker(store storage.UsageStore, cfg Config, clock Clock, logger zerolog.Logger) *Tracker {
	if cfg.DailyQuotaMinutes <= 0 {
		cfg.DailyQuotaMinutes = DefaultDailyQuotaMinutes
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Tracker{
		store:  store,
		clock:  clock,
		quota:  cfg.DailyQuotaMinutes,
		logger: logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// SetSyncer wires the backend syncer triggered after each session end.
func (t *Tracker) SetSyncer(s Syncer) {
	t.syncer = s
}

// DailyQuotaMinutes returns the configured daily allowance.
func (t *Tracker) DailyQuotaMinutes() float64 {
	return t.quota
}

// Snapshot returns the live usage record with day rollover applied.
// The first access synthesizes a zeroed record stamped with today's
// date; a stored record from a previous day is reset to zero and
// persisted before it is returned.
func (t *Tracker) Snapshot(ctx context.Context) (storage.UsageRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(ctx)
}

// StartSession marks a new metered session as active. A session that
// is already active is closed first and its elapsed time accrued, so
// displacing a session never loses accounting.
func (t *Tracker) StartSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.snapshotLocked(ctx)
	if err != nil {
		return err
	}

	now := t.clock.Now()

	if record.SessionActive() {
		displaced := record.CurrentSessionID
		minutes, err := t.closeSessionLocked(ctx, &record, now)
		if err != nil {
			return fmt.Errorf("close displaced session: %w", err)
		}
		metrics.SessionsDisplaced.Inc()
		t.logger.Warn().
			Str("displaced_session_id", displaced).
			Str("session_id", sessionID).
			Float64("minutes", minutes).
			Msg("Auto-closed active session displaced by a new start")
	}

	record.CurrentSessionID = sessionID
	record.CurrentSessionStart = &now

	if err := t.store.PutRecord(ctx, record); err != nil {
		return fmt.Errorf("persist session start: %w", err)
	}

	metrics.SessionsStarted.Inc()
	t.logger.Info().
		Str("session_id", sessionID).
		Float64("daily_minutes_used", record.DailyMinutesUsed).
		Msg("Started metered session")

	return nil
}

// EndSession closes the active session, if any, and returns its
// duration in fractional minutes. Calling it with no session active is
// a no-op returning zero. A successful close triggers an asynchronous
// backend sync whose outcome does not affect the returned duration.
func (t *Tracker) EndSession(ctx context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.snapshotLocked(ctx)
	if err != nil {
		return 0, err
	}

	if !record.SessionActive() {
		return 0, nil
	}

	sessionID := record.CurrentSessionID
	minutes, err := t.closeSessionLocked(ctx, &record, t.clock.Now())
	if err != nil {
		return 0, err
	}

	if err := t.store.PutRecord(ctx, record); err != nil {
		return 0, fmt.Errorf("persist session end: %w", err)
	}

	metrics.SessionsEnded.Inc()
	t.logger.Info().
		Str("session_id", sessionID).
		Float64("minutes", minutes).
		Float64("daily_minutes_used", record.DailyMinutesUsed).
		Msg("Ended metered session")

	t.triggerSync()

	return minutes, nil
}

// CurrentSessionMinutes returns the elapsed minutes of the in-progress
// session without closing it, or zero when none is active.
func (t *Tracker) CurrentSessionMinutes(ctx context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.snapshotLocked(ctx)
	if err != nil {
		return 0, err
	}
	if !record.SessionActive() {
		return 0, nil
	}
	return elapsedMinutes(*record.CurrentSessionStart, t.clock.Now()), nil
}

// HasAvailableQuota reports whether today's usage is strictly below
// the daily quota. Usage exactly at the limit has no remaining quota.
func (t *Tracker) HasAvailableQuota(ctx context.Context) (bool, error) {
	record, err := t.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return record.DailyMinutesUsed < t.quota, nil
}

// RemainingMinutes returns the unused portion of today's quota,
// clamped at zero when usage has overshot the allowance.
func (t *Tracker) RemainingMinutes(ctx context.Context) (float64, error) {
	record, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return remaining(t.quota, record.DailyMinutesUsed), nil
}

// Stats returns a composite view of today's usage for the control API.
func (t *Tracker) Stats(ctx context.Context) (*Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.snapshotLocked(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TodayMinutes:      record.DailyMinutesUsed,
		RemainingMinutes:  remaining(t.quota, record.DailyMinutesUsed),
		DailyQuotaMinutes: t.quota,
		QuotaExceeded:     record.DailyMinutesUsed >= t.quota,
	}
	if record.SessionActive() {
		stats.ActiveSessionID = record.CurrentSessionID
		stats.ActiveMinutes = elapsedMinutes(*record.CurrentSessionStart, t.clock.Now())
	}

	return stats, nil
}

// Reconcile adopts the backend-authoritative daily total. The store is
// written only when the server value differs from the local one; the
// return value reports whether a write happened.
func (t *Tracker) Reconcile(ctx context.Context, serverMinutes float64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.snapshotLocked(ctx)
	if err != nil {
		return false, err
	}

	if record.DailyMinutesUsed == serverMinutes {
		return false, nil
	}

	local := record.DailyMinutesUsed
	record.DailyMinutesUsed = serverMinutes
	if err := t.store.PutRecord(ctx, record); err != nil {
		return false, fmt.Errorf("persist reconciled usage: %w", err)
	}

	metrics.SyncReconciliations.Inc()
	metrics.RemainingMinutes.Set(remaining(t.quota, serverMinutes))
	t.logger.Debug().
		Float64("local_minutes", local).
		Float64("server_minutes", serverMinutes).
		Msg("Adopted backend usage total")

	return true, nil
}

// snapshotLocked reads the live record and applies day rollover. Must
// be called with the mutex held.
func (t *Tracker) snapshotLocked(ctx context.Context) (storage.UsageRecord, error) {
	today := t.clock.Now().Format(storage.DateFormat)

	record, err := t.store.GetRecord(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.UsageRecord{LastResetDate: today}, nil
	}
	if err != nil {
		return storage.UsageRecord{}, fmt.Errorf("read usage record: %w", err)
	}

	if record.LastResetDate == today {
		return *record, nil
	}

	record.DailyMinutesUsed = 0
	record.LastResetDate = today
	if err := t.store.PutRecord(ctx, *record); err != nil {
		return storage.UsageRecord{}, fmt.Errorf("persist daily reset: %w", err)
	}

	metrics.DailyResets.Inc()
	metrics.RemainingMinutes.Set(t.quota)
	t.logger.Info().Str("date", today).Msg("Applied daily usage reset")

	return *record, nil
}

// closeSessionLocked accrues the active session's elapsed time into
// the record, journals it, and clears the session pointer. The caller
// persists the record. Must be called with the mutex held.
func (t *Tracker) closeSessionLocked(ctx context.Context, record *storage.UsageRecord, now time.Time) (float64, error) {
	start := *record.CurrentSessionStart
	minutes := elapsedMinutes(start, now)

	session := storage.SessionRecord{
		ID:              record.CurrentSessionID,
		Date:            now.Format(storage.DateFormat),
		StartedAt:       start,
		EndedAt:         now,
		DurationMinutes: minutes,
	}

	record.DailyMinutesUsed += minutes
	record.CurrentSessionID = ""
	record.CurrentSessionStart = nil

	if err := t.store.AppendSession(ctx, session); err != nil {
		return 0, fmt.Errorf("journal session: %w", err)
	}
	if err := t.store.IncrementDailyTotal(ctx, session.Date, minutes); err != nil {
		return 0, fmt.Errorf("update daily history: %w", err)
	}

	metrics.UsageMinutesConsumed.Add(minutes)
	metrics.RemainingMinutes.Set(remaining(t.quota, record.DailyMinutesUsed))

	return minutes, nil
}

// triggerSync fires the backend sync without blocking the caller.
// Failures are logged; the next periodic tick retries.
func (t *Tracker) triggerSync() {
	if t.syncer == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTriggerTimeout)
		defer cancel()

		if err := t.syncer.Sync(ctx); err != nil {
			t.logger.Warn().Err(err).Msg("Post-session usage sync failed")
		}
	}()
}

// elapsedMinutes computes fractional minutes between two instants,
// clamped at zero against clock skew.
func elapsedMinutes(start, now time.Time) float64 {
	minutes := now.Sub(start).Minutes()
	if minutes < 0 {
		return 0
	}
	return minutes
}

func remaining(quota, used float64) float64 {
	if used >= quota {
		return 0
	}
	return quota - used
}
