package api

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/metrics"
	"github.com/voxlate/dubmeter/internal/storage"
	"github.com/voxlate/dubmeter/internal/usage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// UsageHandler exposes the tracker to the dubbing client.
type UsageHandler struct {
	tracker *usage.Tracker
	store   storage.UsageStore
	syncer  usage.Syncer
	logger  zerolog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(tracker *usage.Tracker, store storage.UsageStore, syncer usage.Syncer, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{
		tracker: tracker,
		store:   store,
		syncer:  syncer,
		logger:  logger.With().Str("handler", "usage").Logger(),
	}
}

type startSessionRequest struct {
	SessionID string `json:"session_id"`
}

// StartSession begins a metered session. The daily quota is checked
// first: an exhausted quota rejects the start so the client can show
// its limit screen.
func (h *UsageHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	available, err := h.tracker.HasAvailableQuota(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to check quota")
		writeError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}
	if !available {
		metrics.QuotaDenied.Inc()
		remaining, _ := h.tracker.RemainingMinutes(ctx)
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":             "quota_exhausted",
			"message":           "Daily dubbing quota exhausted",
			"remaining_minutes": remaining,
		})
		return
	}

	if err := h.tracker.StartSession(ctx, req.SessionID); err != nil {
		h.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("Failed to start session")
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": req.SessionID,
	})
}

// EndSession closes the active session and returns its duration.
// Ending with no active session succeeds with a zero duration.
func (h *UsageHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	minutes, err := h.tracker.EndSession(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to end session")
		writeError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"duration_minutes": minutes,
	})
}

// GetUsage returns the live record and derived statistics.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := h.tracker.Snapshot(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read usage")
		writeError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}

	stats, err := h.tracker.Stats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute usage stats")
		writeError(w, http.StatusInternalServerError, "Failed to compute usage stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record": record,
		"stats":  stats,
	})
}

// GetQuota returns quota availability for the session-gating check.
func (h *UsageHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	available, err := h.tracker.HasAvailableQuota(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to check quota")
		writeError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}

	remaining, err := h.tracker.RemainingMinutes(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute remaining quota")
		writeError(w, http.StatusInternalServerError, "Failed to compute remaining quota")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"has_available_quota": available,
		"remaining_minutes":   remaining,
		"daily_quota_minutes": h.tracker.DailyQuotaMinutes(),
	})
}

// GetHistory returns the per-day usage history.
func (h *UsageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totals, err := h.store.ListDailyTotals(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list daily history")
		writeError(w, http.StatusInternalServerError, "Failed to list daily history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  totals,
		"count": len(totals),
	})
}

// TriggerSync runs an immediate backend reconciliation.
func (h *UsageHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "Sync is not configured")
		return
	}

	if err := h.syncer.Sync(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Manual usage sync failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Usage synced",
	})
}

// generateSessionID generates a unique session ID.
func generateSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// This should never happen with a working system RNG
		panic(fmt.Sprintf("failed to generate random session ID: %v", err))
	}
	return hex.EncodeToString(buf)
}
