package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_sessions_started_total",
			Help: "Total metered sessions started",
		},
	)

	SessionsEnded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_sessions_ended_total",
			Help: "Total metered sessions ended",
		},
	)

	SessionsDisplaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_sessions_displaced_total",
			Help: "Sessions auto-closed because a new session started over them",
		},
	)

	// Usage metrics
	UsageMinutesConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_usage_minutes_consumed_total",
			Help: "Total metered minutes accrued locally",
		},
	)

	RemainingMinutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dubmeter_quota_remaining_minutes",
			Help: "Remaining minutes of today's quota",
		},
	)

	QuotaDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_quota_denied_total",
			Help: "Session start attempts rejected because the daily quota was exhausted",
		},
	)

	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_daily_resets_total",
			Help: "Day-rollover resets applied to the live usage record",
		},
	)

	// Sync metrics
	SyncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubmeter_sync_attempts_total",
			Help: "Backend usage sync attempts by result",
		},
		[]string{"result"}, // "ok", "error", "skipped"
	)

	SyncReconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dubmeter_sync_reconciliations_total",
			Help: "Syncs where the server total replaced the local value",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		SessionsDisplaced,
		UsageMinutesConsumed,
		RemainingMinutes,
		QuotaDenied,
		DailyResets,
		SyncAttempts,
		SyncReconciliations,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
