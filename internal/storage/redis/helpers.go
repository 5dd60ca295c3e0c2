package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/voxlate/dubmeter/internal/storage"
)

// parseUsageRecord converts a Redis hash to a UsageRecord.
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	minutes, err := strconv.ParseFloat(data["daily_minutes_used"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily_minutes_used: %w", err)
	}

	record := &storage.UsageRecord{
		DailyMinutesUsed: minutes,
		LastResetDate:    data["last_reset_date"],
	}

	if id, ok := data["current_session_id"]; ok && id != "" {
		start, err := time.Parse(time.RFC3339Nano, data["current_session_start"])
		if err != nil {
			return nil, fmt.Errorf("failed to parse current_session_start: %w", err)
		}
		record.CurrentSessionID = id
		record.CurrentSessionStart = &start
	}

	return record, nil
}

// parseSessionRecord converts a Redis hash to a SessionRecord.
func parseSessionRecord(data map[string]string) (*storage.SessionRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	endedAt, err := time.Parse(time.RFC3339Nano, data["ended_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ended_at: %w", err)
	}

	minutes, err := strconv.ParseFloat(data["duration_minutes"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_minutes: %w", err)
	}

	return &storage.SessionRecord{
		ID:              data["id"],
		Date:            data["date"],
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DurationMinutes: minutes,
	}, nil
}
