package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// QuotaConfig defines the daily metered allowance
type QuotaConfig struct {
	DailyQuotaMinutes float64 `mapstructure:"daily_quota_minutes"`
}

// SyncConfig defines backend reconciliation settings
type SyncConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Interval  string `mapstructure:"interval"`
	Timeout   string `mapstructure:"timeout"`
	TokenFile string `mapstructure:"token_file"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// RetentionConfig defines history cleanup settings
type RetentionConfig struct {
	HistoryDays int    `mapstructure:"history_days"`
	CleanupTime string `mapstructure:"cleanup_time"` // HH:MM
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DUBMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8787)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Quota defaults (free tier: five metered minutes per day)
	v.SetDefault("quota.daily_quota_minutes", 5.0)

	// Sync defaults
	v.SetDefault("sync.endpoint", "https://api.voxlate.io/api/v1/dubbing/usage/sync")
	v.SetDefault("sync.interval", "10s")
	v.SetDefault("sync.timeout", "5s")
	v.SetDefault("sync.token_file", "")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/dubmeter/dubmeter.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Retention defaults
	v.SetDefault("retention.history_days", 90)
	v.SetDefault("retention.cleanup_time", "03:30")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Quota.DailyQuotaMinutes <= 0 {
		return fmt.Errorf("daily quota must be positive, got %v", cfg.Quota.DailyQuotaMinutes)
	}

	if cfg.Sync.Endpoint == "" {
		return fmt.Errorf("sync endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Sync.Endpoint); err != nil {
		return fmt.Errorf("invalid sync endpoint: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Sync.Interval); err != nil {
		return fmt.Errorf("invalid sync interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Sync.Timeout); err != nil {
		return fmt.Errorf("invalid sync timeout: %w", err)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Retention.HistoryDays <= 0 {
		return fmt.Errorf("retention history_days must be positive, got %d", cfg.Retention.HistoryDays)
	}
	if _, err := time.Parse("15:04", cfg.Retention.CleanupTime); err != nil {
		return fmt.Errorf("invalid retention cleanup_time: %w", err)
	}

	return nil
}
