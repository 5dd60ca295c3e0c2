package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
}

// UsageStore manages the live usage record, the session journal, and
// the per-day usage history.
type UsageStore interface {
	// GetRecord returns the live usage record. Returns ErrNotFound
	// before first use.
	GetRecord(ctx context.Context) (*UsageRecord, error)
	PutRecord(ctx context.Context, record UsageRecord) error

	AppendSession(ctx context.Context, session SessionRecord) error
	ListSessions(ctx context.Context, date string) ([]SessionRecord, error)

	IncrementDailyTotal(ctx context.Context, date string, minutes float64) error
	GetDailyTotal(ctx context.Context, date string) (*DailyTotal, error)
	ListDailyTotals(ctx context.Context) ([]DailyTotal, error)

	DeleteDailyTotalsBefore(ctx context.Context, cutoffDate string) (int, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
