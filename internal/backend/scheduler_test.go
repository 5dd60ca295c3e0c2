package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSyncer struct {
	calls atomic.Int64
	err   error
}

func (s *countingSyncer) Sync(ctx context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestSchedulerTicks(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := NewScheduler(syncer, 10*time.Millisecond, zerolog.Nop())

	scheduler.Start()
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	if got := syncer.calls.Load(); got < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", got)
	}
}

func TestSchedulerSurvivesFailingTicks(t *testing.T) {
	syncer := &countingSyncer{err: fmt.Errorf("usage sync failed: 500")}
	scheduler := NewScheduler(syncer, 10*time.Millisecond, zerolog.Nop())

	scheduler.Start()
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	if got := syncer.calls.Load(); got < 3 {
		t.Fatalf("expected scheduler to keep ticking through failures, got %d ticks", got)
	}
}

func TestSchedulerStopsTicking(t *testing.T) {
	syncer := &countingSyncer{}
	scheduler := NewScheduler(syncer, 10*time.Millisecond, zerolog.Nop())

	scheduler.Start()
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()

	after := syncer.calls.Load()
	time.Sleep(50 * time.Millisecond)

	if got := syncer.calls.Load(); got != after {
		t.Fatalf("expected no ticks after stop, got %d more", got-after)
	}
}
