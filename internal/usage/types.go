package usage

import "context"

// Stats represents current usage statistics against today's quota.
type Stats struct {
	TodayMinutes      float64 `json:"today_minutes"`
	RemainingMinutes  float64 `json:"remaining_minutes"`
	DailyQuotaMinutes float64 `json:"daily_quota_minutes"`
	QuotaExceeded     bool    `json:"quota_exceeded"`
	ActiveSessionID   string  `json:"active_session_id,omitempty"`
	ActiveMinutes     float64 `json:"active_minutes,omitempty"`
}

// Syncer reconciles local usage with the backend. The tracker triggers
// it after each session end without waiting for the result.
type Syncer interface {
	Sync(ctx context.Context) error
}
