package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/voxlate/dubmeter/internal/storage"
	"github.com/voxlate/dubmeter/internal/usage"
)

// Config holds the control API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the local control API consumed by the dubbing client.
type Server struct {
	config Config
	server *http.Server
	router *mux.Router
	logger zerolog.Logger
}

// NewServer creates a new control API server.
func NewServer(cfg Config, tracker *usage.Tracker, store storage.UsageStore, syncer usage.Syncer, logger zerolog.Logger) *Server {
	componentLogger := logger.With().Str("component", "api").Logger()

	handler := NewUsageHandler(tracker, store, syncer, componentLogger)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/session/start", handler.StartSession).Methods(http.MethodPost)
	v1.HandleFunc("/session/end", handler.EndSession).Methods(http.MethodPost)
	v1.HandleFunc("/usage", handler.GetUsage).Methods(http.MethodGet)
	v1.HandleFunc("/quota", handler.GetQuota).Methods(http.MethodGet)
	v1.HandleFunc("/history", handler.GetHistory).Methods(http.MethodGet)
	v1.HandleFunc("/sync", handler.TriggerSync).Methods(http.MethodPost)

	return &Server{
		config: cfg,
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		router: router,
		logger: componentLogger,
	}
}

// Router returns the underlying router, exposed for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting control API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping control API server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
