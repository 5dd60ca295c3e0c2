package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/auth"
	"github.com/voxlate/dubmeter/internal/metrics"
	"github.com/voxlate/dubmeter/internal/storage"
)

// DefaultTimeout bounds a single sync request.
const DefaultTimeout = 5 * time.Second

// UsageSource is the tracker-side surface the sync client needs: the
// current record for the request body, and reconciliation of the
// server-authoritative total. No other component writes to the store.
type UsageSource interface {
	Snapshot(ctx context.Context) (storage.UsageRecord, error)
	Reconcile(ctx context.Context, serverMinutes float64) (bool, error)
}

// SyncError reports a non-2xx response from the usage sync endpoint.
type SyncError struct {
	StatusCode int
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("usage sync failed: %d", e.StatusCode)
}

// Config holds sync client configuration.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client reconciles the locally accrued usage with the backend. The
// backend value is authoritative: a successful sync overwrites the
// local total whenever the two differ.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     auth.TokenProvider
	source     UsageSource
	logger     zerolog.Logger
}

// NewClient creates a new sync client.
func NewClient(cfg Config, tokens auth.TokenProvider, source UsageSource, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		source:     source,
		logger:     logger.With().Str("component", "usage-sync").Logger(),
	}
}

type syncRequest struct {
	DailyMinutesUsed float64 `json:"daily_minutes_used"`
	LastResetDate    string  `json:"last_reset_date"`
}

type syncResponse struct {
	DailyMinutesUsed float64 `json:"daily_minutes_used"`
}

// Sync pushes the local daily total to the backend and adopts the
// authoritative value it returns. Without a token the sync is skipped
// entirely: no network call, no store mutation, nil error.
func (c *Client) Sync(ctx context.Context) error {
	token := c.tokens.Token()
	if token == "" {
		metrics.SyncAttempts.WithLabelValues("skipped").Inc()
		c.logger.Debug().Msg("Skipping usage sync, no auth token")
		return nil
	}

	record, err := c.source.Snapshot(ctx)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("read usage for sync: %w", err)
	}

	body, err := json.Marshal(syncRequest{
		DailyMinutesUsed: record.DailyMinutesUsed,
		LastResetDate:    record.LastResetDate,
	})
	if err != nil {
		return fmt.Errorf("encode sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("post usage sync: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.SyncAttempts.WithLabelValues("error").Inc()
		return &SyncError{StatusCode: resp.StatusCode}
	}

	var parsed syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.SyncAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("decode sync response: %w", err)
	}

	changed, err := c.source.Reconcile(ctx, parsed.DailyMinutesUsed)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("adopt server usage total: %w", err)
	}

	metrics.SyncAttempts.WithLabelValues("ok").Inc()
	c.logger.Debug().
		Float64("local_minutes", record.DailyMinutesUsed).
		Float64("server_minutes", parsed.DailyMinutesUsed).
		Bool("reconciled", changed).
		Msg("Usage sync complete")

	return nil
}
