package usage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/storage"
)

// RetentionScheduler prunes old daily history and journal sessions
// once per day. The live record is never touched; its daily reset is
// applied lazily on read by the tracker.
type RetentionScheduler struct {
	store       storage.UsageStore
	cleanupTime time.Time // only hour and minute are used
	historyDays int
	logger      zerolog.Logger
	stopChan    chan struct{}
}

// NewRetentionScheduler creates a new retention scheduler. cleanupTime
// is the time of day in HH:MM format.
func NewRetentionScheduler(store storage.UsageStore, cleanupTime string, historyDays int, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsedTime, err := time.Parse("15:04", cleanupTime)
	if err != nil {
		return nil, err
	}

	return &RetentionScheduler{
		store:       store,
		cleanupTime: parsedTime,
		historyDays: historyDays,
		logger:      logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:    make(chan struct{}),
	}, nil
}

// Start begins the retention scheduler.
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("cleanup_time", rs.cleanupTime.Format("15:04")).
		Int("history_days", rs.historyDays).
		Msg("Usage retention scheduler started")
}

// Stop stops the retention scheduler.
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Usage retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	for {
		nextCleanup := rs.calculateNextCleanup()
		waitDuration := time.Until(nextCleanup)

		rs.logger.Info().
			Time("next_cleanup", nextCleanup).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next retention cleanup")

		select {
		case <-time.After(waitDuration):
			rs.performCleanup()
		case <-rs.stopChan:
			return
		}
	}
}

func (rs *RetentionScheduler) calculateNextCleanup() time.Time {
	now := time.Now()

	todayCleanup := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.cleanupTime.Hour(), rs.cleanupTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todayCleanup) {
		return todayCleanup.AddDate(0, 0, 1)
	}

	return todayCleanup
}

func (rs *RetentionScheduler) performCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -rs.historyDays)
	cutoffDate := cutoff.Format(storage.DateFormat)

	totalsDeleted, err := rs.store.DeleteDailyTotalsBefore(ctx, cutoffDate)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clean up old daily usage history")
		return
	}

	sessionsDeleted, err := rs.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clean up old session journal entries")
		return
	}

	rs.logger.Info().
		Int("totals_deleted", totalsDeleted).
		Int("sessions_deleted", sessionsDeleted).
		Str("cutoff_date", cutoffDate).
		Msg("Retention cleanup complete")
}
