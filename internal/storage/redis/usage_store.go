package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voxlate/dubmeter/internal/storage"
)

const (
	recordKey       = "dubmeter:usage:record"
	dailyDatesKey   = "dubmeter:usage:dates"
	sessionsByEnd   = "dubmeter:sessions:by_end"
	dailyKeyPrefix  = "dubmeter:usage:daily:"
	sessionPrefix   = "dubmeter:session:"
	sessionsByDateP = "dubmeter:sessions:by_date:"
)

type usageStore struct {
	client *redis.Client
}

// GetRecord returns the live usage record.
func (s *usageStore) GetRecord(ctx context.Context) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, recordKey).Result()
	if err != nil {
		return nil, err
	}
	return parseUsageRecord(data)
}

// PutRecord replaces the live usage record.
func (s *usageStore) PutRecord(ctx context.Context, record storage.UsageRecord) error {
	fields := map[string]interface{}{
		"daily_minutes_used": strconv.FormatFloat(record.DailyMinutesUsed, 'f', -1, 64),
		"last_reset_date":    record.LastResetDate,
	}
	if record.SessionActive() {
		fields["current_session_id"] = record.CurrentSessionID
		fields["current_session_start"] = record.CurrentSessionStart.Format(time.RFC3339Nano)
	}

	// Delete and rewrite in one round trip so cleared session fields
	// do not linger in the hash.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey)
	pipe.HSet(ctx, recordKey, fields)
	_, err := pipe.Exec(ctx)
	return err
}

// AppendSession records a completed session in the journal.
func (s *usageStore) AppendSession(ctx context.Context, session storage.SessionRecord) error {
	sessionKey := sessionPrefix + session.ID
	dateKey := sessionsByDateP + session.Date

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey, map[string]interface{}{
		"id":               session.ID,
		"date":             session.Date,
		"started_at":       session.StartedAt.Format(time.RFC3339Nano),
		"ended_at":         session.EndedAt.Format(time.RFC3339Nano),
		"duration_minutes": strconv.FormatFloat(session.DurationMinutes, 'f', -1, 64),
	})
	pipe.SAdd(ctx, dateKey, session.ID)
	pipe.ZAdd(ctx, sessionsByEnd, redis.Z{
		Score:  float64(session.EndedAt.UnixNano()),
		Member: session.ID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// ListSessions returns the journal entries for a date.
func (s *usageStore) ListSessions(ctx context.Context, date string) ([]storage.SessionRecord, error) {
	ids, err := s.client.SMembers(ctx, sessionsByDateP+date).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.SessionRecord, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.HGetAll(ctx, sessionPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		session, err := parseSessionRecord(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

// IncrementDailyTotal adds minutes to the per-date history entry.
func (s *usageStore) IncrementDailyTotal(ctx context.Context, date string, minutes float64) error {
	pipe := s.client.TxPipeline()
	pipe.IncrByFloat(ctx, dailyKeyPrefix+date, minutes)
	pipe.SAdd(ctx, dailyDatesKey, date)
	_, err := pipe.Exec(ctx)
	return err
}

// GetDailyTotal returns the history entry for a date.
func (s *usageStore) GetDailyTotal(ctx context.Context, date string) (*storage.DailyTotal, error) {
	value, err := s.client.Get(ctx, dailyKeyPrefix+date).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	minutes, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily total: %w", err)
	}

	return &storage.DailyTotal{Date: date, TotalMinutes: minutes}, nil
}

// ListDailyTotals returns all history entries.
func (s *usageStore) ListDailyTotals(ctx context.Context) ([]storage.DailyTotal, error) {
	dates, err := s.client.SMembers(ctx, dailyDatesKey).Result()
	if err != nil {
		return nil, err
	}

	totals := make([]storage.DailyTotal, 0, len(dates))
	for _, date := range dates {
		total, err := s.GetDailyTotal(ctx, date)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		totals = append(totals, *total)
	}

	return totals, nil
}

// DeleteDailyTotalsBefore removes history entries older than the cutoff.
func (s *usageStore) DeleteDailyTotalsBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DateFormat, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := s.client.SMembers(ctx, dailyDatesKey).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range dates {
		dateValue, err := time.Parse(storage.DateFormat, date)
		if err != nil {
			continue
		}
		if !dateValue.Before(cutoff) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dailyKeyPrefix+date)
		pipe.SRem(ctx, dailyDatesKey, date)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

// DeleteSessionsBefore removes journal entries that ended before the cutoff.
func (s *usageStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	maxScore := strconv.FormatInt(cutoff.UnixNano()-1, 10)
	ids, err := s.client.ZRangeByScore(ctx, sessionsByEnd, &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		date, err := s.client.HGet(ctx, sessionPrefix+id, "date").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return deleted, err
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, sessionPrefix+id)
		pipe.ZRem(ctx, sessionsByEnd, id)
		if date != "" {
			pipe.SRem(ctx, sessionsByDateP+date, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}
