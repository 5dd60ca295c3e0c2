package storage

import (
	"time"
)

// DateFormat is the calendar-date layout used for rollover markers and
// history keys.
const DateFormat = "2006-01-02"

// UsageRecord is the single live record tracking daily consumption and
// the active-session pointer.
//
// Invariant: CurrentSessionID is empty exactly when CurrentSessionStart
// is nil.
type UsageRecord struct {
	DailyMinutesUsed    float64    `json:"daily_minutes_used"`
	LastResetDate       string     `json:"last_reset_date"`
	CurrentSessionID    string     `json:"current_session_id,omitempty"`
	CurrentSessionStart *time.Time `json:"current_session_start,omitempty"`
}

// SessionActive reports whether a metered session is in progress.
func (r *UsageRecord) SessionActive() bool {
	return r.CurrentSessionID != "" && r.CurrentSessionStart != nil
}

// SessionRecord is a journal entry for a completed metered session.
type SessionRecord struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationMinutes float64   `json:"duration_minutes"`
}

// DailyTotal aggregates accrued minutes per calendar date.
type DailyTotal struct {
	Date         string  `json:"date"`
	TotalMinutes float64 `json:"total_minutes"`
}
