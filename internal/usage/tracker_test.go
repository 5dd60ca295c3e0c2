package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/storage"
)

func TestSnapshotFreshInstall(t *testing.T) {
	tracker, _, clock := newTestTracker(t, Config{})

	record, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if record.DailyMinutesUsed != 0 {
		t.Fatalf("expected 0 minutes used, got %v", record.DailyMinutesUsed)
	}
	if record.LastResetDate != clock.Now().Format(storage.DateFormat) {
		t.Fatalf("expected today's reset date, got %s", record.LastResetDate)
	}
	if record.SessionActive() {
		t.Fatalf("expected no active session on fresh install")
	}
}

func TestSnapshotAppliesDayRollover(t *testing.T) {
	tracker, store, clock := newTestTracker(t, Config{})

	yesterday := clock.Now().AddDate(0, 0, -1).Format(storage.DateFormat)
	seed := storage.UsageRecord{
		DailyMinutesUsed: 4.5,
		LastResetDate:    yesterday,
	}
	if err := store.PutRecord(context.Background(), seed); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	store.resetCounters()

	record, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	today := clock.Now().Format(storage.DateFormat)
	if record.DailyMinutesUsed != 0 {
		t.Fatalf("expected usage reset to 0, got %v", record.DailyMinutesUsed)
	}
	if record.LastResetDate != today {
		t.Fatalf("expected reset date %s, got %s", today, record.LastResetDate)
	}
	if store.putRecordCalls != 1 {
		t.Fatalf("expected rollover to persist once, got %d writes", store.putRecordCalls)
	}

	// A second read on the same day must not write again.
	if _, err := tracker.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if store.putRecordCalls != 1 {
		t.Fatalf("expected rollover to be idempotent, got %d writes", store.putRecordCalls)
	}
}

func TestStartEndSessionAccrual(t *testing.T) {
	tracker, store, clock := newTestTracker(t, Config{})

	if err := tracker.StartSession(context.Background(), "s1"); err != nil {
		t.Fatalf("start session: %v", err)
	}

	record, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if record.CurrentSessionID != "s1" {
		t.Fatalf("expected active session s1, got %q", record.CurrentSessionID)
	}
	if record.DailyMinutesUsed != 0 {
		t.Fatalf("starting a session must not touch the daily total, got %v", record.DailyMinutesUsed)
	}

	clock.Advance(3 * time.Minute)

	minutes, err := tracker.EndSession(context.Background())
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if minutes != 3.0 {
		t.Fatalf("expected 3.0 minutes, got %v", minutes)
	}

	record, err = tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if record.DailyMinutesUsed != 3.0 {
		t.Fatalf("expected 3.0 minutes accrued, got %v", record.DailyMinutesUsed)
	}
	if record.SessionActive() {
		t.Fatalf("expected session cleared after end")
	}

	today := clock.Now().Format(storage.DateFormat)
	sessions, err := store.ListSessions(context.Background(), today)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("expected journaled session s1, got %+v", sessions)
	}

	total, err := store.GetDailyTotal(context.Background(), today)
	if err != nil {
		t.Fatalf("get daily total: %v", err)
	}
	if total.TotalMinutes != 3.0 {
		t.Fatalf("expected daily history 3.0, got %v", total.TotalMinutes)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	tracker, store, clock := newTestTracker(t, Config{})

	if err := tracker.StartSession(context.Background(), "s1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	clock.Advance(90 * time.Second)

	first, err := tracker.EndSession(context.Background())
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if first != 1.5 {
		t.Fatalf("expected 1.5 minutes, got %v", first)
	}

	store.resetCounters()

	second, err := tracker.EndSession(context.Background())
	if err != nil {
		t.Fatalf("second end session: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected 0 from idle end, got %v", second)
	}
	if store.putRecordCalls != 0 {
		t.Fatalf("idle end must not write, got %d writes", store.putRecordCalls)
	}
}

func TestCurrentSessionMinutes(t *testing.T) {
	tracker, _, clock := newTestTracker(t, Config{})

	minutes, err := tracker.CurrentSessionMinutes(context.Background())
	if err != nil {
		t.Fatalf("current session minutes: %v", err)
	}
	if minutes != 0 {
		t.Fatalf("expected 0 with no session, got %v", minutes)
	}

	if err := tracker.StartSession(context.Background(), "s1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	clock.Advance(2*time.Minute + 30*time.Second)

	minutes, err = tracker.CurrentSessionMinutes(context.Background())
	if err != nil {
		t.Fatalf("current session minutes: %v", err)
	}
	if minutes != 2.5 {
		t.Fatalf("expected 2.5 minutes, got %v", minutes)
	}

	// A read must not close the session.
	record, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !record.SessionActive() {
		t.Fatalf("expected session still active after duration read")
	}
}

func TestQuotaQueries(t *testing.T) {
	cases := []struct {
		name          string
		used          float64
		wantAvailable bool
		wantRemaining float64
	}{
		{name: "under quota", used: 3.0, wantAvailable: true, wantRemaining: 2.0},
		{name: "at quota", used: 5.0, wantAvailable: false, wantRemaining: 0},
		{name: "over quota", used: 6.2, wantAvailable: false, wantRemaining: 0},
		{name: "unused", used: 0, wantAvailable: true, wantRemaining: 5.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker, store, clock := newTestTracker(t, Config{DailyQuotaMinutes: 5.0})

			seed := storage.UsageRecord{
				DailyMinutesUsed: tc.used,
				LastResetDate:    clock.Now().Format(storage.DateFormat),
			}
			if err := store.PutRecord(context.Background(), seed); err != nil {
				t.Fatalf("seed record: %v", err)
			}

			available, err := tracker.HasAvailableQuota(context.Background())
			if err != nil {
				t.Fatalf("has available quota: %v", err)
			}
			if available != tc.wantAvailable {
				t.Fatalf("expected available=%v at %v used", tc.wantAvailable, tc.used)
			}

			remaining, err := tracker.RemainingMinutes(context.Background())
			if err != nil {
				t.Fatalf("remaining minutes: %v", err)
			}
			if remaining != tc.wantRemaining {
				t.Fatalf("expected remaining %v, got %v", tc.wantRemaining, remaining)
			}
		})
	}
}

func TestStartSessionDisplacesActiveSession(t *testing.T) {
	tracker, store, clock := newTestTracker(t, Config{})

	if err := tracker.StartSession(context.Background(), "s1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	clock.Advance(2 * time.Minute)

	if err := tracker.StartSession(context.Background(), "s2"); err != nil {
		t.Fatalf("start displacing session: %v", err)
	}

	record, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if record.CurrentSessionID != "s2" {
		t.Fatalf("expected active session s2, got %q", record.CurrentSessionID)
	}
	if record.DailyMinutesUsed != 2.0 {
		t.Fatalf("displaced session time must be accrued, got %v", record.DailyMinutesUsed)
	}

	sessions, err := store.ListSessions(context.Background(), clock.Now().Format(storage.DateFormat))
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("expected journaled displaced session s1, got %+v", sessions)
	}
}

func TestStartSessionRejectsEmptyID(t *testing.T) {
	tracker, _, _ := newTestTracker(t, Config{})

	if err := tracker.StartSession(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}

func TestReconcile(t *testing.T) {
	tracker, store, clock := newTestTracker(t, Config{})

	seed := storage.UsageRecord{
		DailyMinutesUsed: 2.0,
		LastResetDate:    clock.Now().Format(storage.DateFormat),
	}
	if err := store.PutRecord(context.Background(), seed); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	store.resetCounters()

	// Matching server value: no store write.
	changed, err := tracker.Reconcile(context.Background(), 2.0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if changed {
		t.Fatalf("expected no change for matching server value")
	}
	if store.putRecordCalls != 0 {
		t.Fatalf("matching reconcile must not write, got %d writes", store.putRecordCalls)
	}

	// Diverging server value overwrites the local total.
	changed, err = tracker.Reconcile(context.Background(), 4.25)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed {
		t.Fatalf("expected change for diverging server value")
	}

	record, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if record.DailyMinutesUsed != 4.25 {
		t.Fatalf("expected server total 4.25 adopted, got %v", record.DailyMinutesUsed)
	}
}

func TestEndSessionTriggersSync(t *testing.T) {
	tracker, _, clock := newTestTracker(t, Config{})

	syncer := &recordingSyncer{called: make(chan struct{}, 1)}
	tracker.SetSyncer(syncer)

	if err := tracker.StartSession(context.Background(), "s1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	clock.Advance(time.Minute)

	if _, err := tracker.EndSession(context.Background()); err != nil {
		t.Fatalf("end session: %v", err)
	}

	select {
	case <-syncer.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected sync trigger after session end")
	}
}

type recordingSyncer struct {
	called chan struct{}
}

func (s *recordingSyncer) Sync(ctx context.Context) error {
	select {
	case s.called <- struct{}{}:
	default:
	}
	return nil
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *memStore, *TestClock) {
	t.Helper()

	store := newMemStore()
	clock := &TestClock{CurrentTime: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	tracker := NewTracker(store, cfg, clock, zerolog.Nop())
	return tracker, store, clock
}

// memStore is an in-memory UsageStore that counts writes so tests can
// assert which operations persist.
type memStore struct {
	mu             sync.Mutex
	record         *storage.UsageRecord
	sessions       map[string][]storage.SessionRecord
	totals         map[string]float64
	putRecordCalls int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string][]storage.SessionRecord),
		totals:   make(map[string]float64),
	}
}

func (m *memStore) resetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putRecordCalls = 0
}

func (m *memStore) GetRecord(ctx context.Context) (*storage.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil, storage.ErrNotFound
	}
	record := *m.record
	return &record, nil
}

func (m *memStore) PutRecord(ctx context.Context, record storage.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putRecordCalls++
	m.record = &record
	return nil
}

func (m *memStore) AppendSession(ctx context.Context, session storage.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Date] = append(m.sessions[session.Date], session)
	return nil
}

func (m *memStore) ListSessions(ctx context.Context, date string) ([]storage.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.SessionRecord(nil), m.sessions[date]...), nil
}

func (m *memStore) IncrementDailyTotal(ctx context.Context, date string, minutes float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[date] += minutes
	return nil
}

func (m *memStore) GetDailyTotal(ctx context.Context, date string) (*storage.DailyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	minutes, ok := m.totals[date]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.DailyTotal{Date: date, TotalMinutes: minutes}, nil
}

func (m *memStore) ListDailyTotals(ctx context.Context) ([]storage.DailyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make([]storage.DailyTotal, 0, len(m.totals))
	for date, minutes := range m.totals {
		totals = append(totals, storage.DailyTotal{Date: date, TotalMinutes: minutes})
	}
	return totals, nil
}

func (m *memStore) DeleteDailyTotalsBefore(ctx context.Context, cutoffDate string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for date := range m.totals {
		if date < cutoffDate {
			delete(m.totals, date)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for date, sessions := range m.sessions {
		kept := sessions[:0]
		for _, session := range sessions {
			if session.EndedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, session)
		}
		m.sessions[date] = kept
	}
	return deleted, nil
}
