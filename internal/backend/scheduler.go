package backend

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/usage"
)

// Scheduler invokes the usage sync at a fixed interval for the
// lifetime of the daemon. Each tick is independent: a failed sync is
// logged and the loop keeps running.
type Scheduler struct {
	syncer   usage.Syncer
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
}

// NewScheduler creates a new periodic sync scheduler.
func NewScheduler(syncer usage.Syncer, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		logger:   logger.With().Str("component", "sync-scheduler").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sync loop.
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Periodic usage sync started")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Periodic usage sync stopped")
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if err := s.syncer.Sync(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Periodic usage sync failed")
	}
}
