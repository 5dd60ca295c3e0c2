package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/auth"
	"github.com/voxlate/dubmeter/internal/storage"
)

func TestSyncAdoptsServerTotal(t *testing.T) {
	var gotBody syncRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"daily_minutes_used": 4.5})
	}))
	defer server.Close()

	source := &fakeSource{record: storage.UsageRecord{
		DailyMinutesUsed: 3.0,
		LastResetDate:    "2026-08-29",
	}}
	client := newTestClient(t, server.URL, "tok-123", source)

	if err := client.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if gotBody.DailyMinutesUsed != 3.0 || gotBody.LastResetDate != "2026-08-29" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if source.reconciledWith != 4.5 {
		t.Fatalf("expected reconcile with 4.5, got %v", source.reconciledWith)
	}
}

func TestSyncMatchingTotalStillReconciles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"daily_minutes_used": 3.0})
	}))
	defer server.Close()

	source := &fakeSource{record: storage.UsageRecord{
		DailyMinutesUsed: 3.0,
		LastResetDate:    "2026-08-29",
	}}
	client := newTestClient(t, server.URL, "tok-123", source)

	if err := client.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// The source decides whether the matching value needs a write; the
	// client must still hand it over.
	if source.reconcileCalls != 1 {
		t.Fatalf("expected 1 reconcile call, got %d", source.reconcileCalls)
	}
}

func TestSyncSkippedWithoutToken(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	source := &fakeSource{}
	client := newTestClient(t, server.URL, "", source)

	if err := client.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if requests != 0 {
		t.Fatalf("expected no network call without token, got %d", requests)
	}
	if source.snapshotCalls != 0 || source.reconcileCalls != 0 {
		t.Fatalf("expected no source access without token, got %d/%d", source.snapshotCalls, source.reconcileCalls)
	}
}

func TestSyncErrorCarriesStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	source := &fakeSource{record: storage.UsageRecord{LastResetDate: "2026-08-29"}}
	client := newTestClient(t, server.URL, "tok-123", source)

	err := client.Sync(context.Background())
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *SyncError, got %T: %v", err, err)
	}
	if syncErr.StatusCode != 500 {
		t.Fatalf("expected status 500, got %d", syncErr.StatusCode)
	}
	if err.Error() != "usage sync failed: 500" {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
	if source.reconcileCalls != 0 {
		t.Fatalf("failed sync must not reconcile, got %d calls", source.reconcileCalls)
	}
}

func newTestClient(t *testing.T, endpoint, token string, source *fakeSource) *Client {
	t.Helper()
	return NewClient(
		Config{Endpoint: endpoint},
		&auth.StaticProvider{Value: token},
		source,
		zerolog.Nop(),
	)
}

type fakeSource struct {
	mu             sync.Mutex
	record         storage.UsageRecord
	snapshotCalls  int
	reconcileCalls int
	reconciledWith float64
}

func (f *fakeSource) Snapshot(ctx context.Context) (storage.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	return f.record, nil
}

func (f *fakeSource) Reconcile(ctx context.Context, serverMinutes float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileCalls++
	f.reconciledWith = serverMinutes
	changed := f.record.DailyMinutesUsed != serverMinutes
	f.record.DailyMinutesUsed = serverMinutes
	return changed, nil
}
