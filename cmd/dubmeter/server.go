package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/voxlate/dubmeter/internal/api"
	"github.com/voxlate/dubmeter/internal/auth"
	"github.com/voxlate/dubmeter/internal/backend"
	"github.com/voxlate/dubmeter/internal/config"
	"github.com/voxlate/dubmeter/internal/metrics"
	"github.com/voxlate/dubmeter/internal/storage"
	"github.com/voxlate/dubmeter/internal/storage/bolt"
	"github.com/voxlate/dubmeter/internal/storage/redis"
	"github.com/voxlate/dubmeter/internal/usage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start dubmeter daemon",
	Long:  `Start the dubmeter daemon with the local control API, metrics endpoint, and periodic backend sync.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting dubmeter")

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize Usage Tracker
	tracker := usage.NewTracker(
		store.Usage(),
		usage.Config{
			DailyQuotaMinutes: cfg.Quota.DailyQuotaMinutes,
		},
		usage.RealClock{},
		logger,
	)

	logger.Info().
		Float64("daily_quota_minutes", tracker.DailyQuotaMinutes()).
		Msg("Usage Tracker initialized")

	// Initialize Backend Sync Client
	syncClient := backend.NewClient(
		backend.Config{
			Endpoint: cfg.Sync.Endpoint,
			Timeout:  parseDuration(cfg.Sync.Timeout, backend.DefaultTimeout),
		},
		&auth.FileProvider{Path: cfg.Sync.TokenFile},
		tracker,
		logger,
	)

	// Connect sync client to usage tracker so session ends push updates
	tracker.SetSyncer(syncClient)

	// Initialize Sync Scheduler
	syncScheduler := backend.NewScheduler(
		syncClient,
		parseDuration(cfg.Sync.Interval, 10*time.Second),
		logger,
	)
	syncScheduler.Start()

	logger.Info().
		Str("endpoint", cfg.Sync.Endpoint).
		Str("interval", cfg.Sync.Interval).
		Msg("Sync Scheduler started")

	// Initialize Retention Scheduler
	retentionScheduler, err := usage.NewRetentionScheduler(
		store.Usage(),
		cfg.Retention.CleanupTime,
		cfg.Retention.HistoryDays,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Retention Scheduler: %w", err)
	}

	retentionScheduler.Start()
	logger.Info().Msg("Retention Scheduler initialized")

	// Initialize Control API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(
		api.Config{ListenAddr: apiAddr},
		tracker,
		store.Usage(),
		syncClient,
		logger,
	)

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	logger.Info().
		Str("addr", apiAddr).
		Msg("Control API Server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	// Log startup complete
	logger.Info().Msg("dubmeter startup complete")
	logger.Info().Msgf("Control API: http://%s/api/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Stop servers
	syncScheduler.Stop()
	retentionScheduler.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("dubmeter stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: 'bolt', 'redis')", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
