package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/voxlate/dubmeter/internal/storage"
	"go.etcd.io/bbolt"
)

// recordKey is the single key holding the live usage record.
const recordKey = "usage_data"

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetRecord(ctx context.Context) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketRecord, recordKey)
}

func (s *usageStore) PutRecord(ctx context.Context, record storage.UsageRecord) error {
	return putBucketValue(ctx, s.db, bucketRecord, recordKey, record)
}

func (s *usageStore) AppendSession(ctx context.Context, session storage.SessionRecord) error {
	return putBucketValue(ctx, s.db, bucketSessions, sessionKey(session), session)
}

func (s *usageStore) ListSessions(ctx context.Context, date string) ([]storage.SessionRecord, error) {
	sessions := make([]storage.SessionRecord, 0)
	prefix := []byte(date + "/")
	return sessions, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.SessionRecord
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return nil
	})
}

func (s *usageStore) IncrementDailyTotal(ctx context.Context, date string, minutes float64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}
		var total storage.DailyTotal
		if existing := b.Get([]byte(date)); existing != nil {
			if err := unmarshal(existing, &total); err != nil {
				return err
			}
		} else {
			total = storage.DailyTotal{Date: date}
		}
		total.TotalMinutes += minutes
		data, err := marshal(total)
		if err != nil {
			return err
		}
		return b.Put([]byte(date), data)
	})
}

func (s *usageStore) GetDailyTotal(ctx context.Context, date string) (*storage.DailyTotal, error) {
	return getBucketValue[storage.DailyTotal](ctx, s.db, bucketDailyUsage, date)
}

func (s *usageStore) ListDailyTotals(ctx context.Context) ([]storage.DailyTotal, error) {
	totals := make([]storage.DailyTotal, 0)
	return totals, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var total storage.DailyTotal
			if err := unmarshal(v, &total); err != nil {
				return err
			}
			totals = append(totals, total)
			return nil
		})
	})
}

func (s *usageStore) DeleteDailyTotalsBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DateFormat, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var total storage.DailyTotal
			if err := unmarshal(v, &total); err != nil {
				return err
			}
			dateValue, err := time.Parse(storage.DateFormat, total.Date)
			if err != nil {
				continue
			}
			if dateValue.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}

func (s *usageStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.SessionRecord
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.EndedAt.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}

// sessionKey orders journal entries by date, then end time, then id so
// ListSessions can scan a single date prefix.
func sessionKey(session storage.SessionRecord) string {
	return fmt.Sprintf("%s/%020d-%s", session.Date, session.EndedAt.UnixNano(), session.ID)
}
