// Package config loads and validates the leadflow service configuration.
// Values come from a YAML file, with environment variables taking precedence
// for deployment-specific settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonesrussell/leadflow/internal/database"
	"github.com/jonesrussell/leadflow/internal/enrichment"
	"github.com/jonesrussell/leadflow/internal/notify"
)

const (
	// DefaultReadTimeoutSeconds is the default read timeout in seconds
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default write timeout in seconds
	DefaultWriteTimeoutSeconds = 30
	// DefaultShutdownTimeoutSeconds is the default graceful shutdown window
	DefaultShutdownTimeoutSeconds = 30
)

type Config struct {
	Debug      bool              `yaml:"debug"` // Controls log level and format
	Server     ServerConfig      `yaml:"server"`
	Database   database.Config   `yaml:"database"`
	Redis      RedisConfig       `yaml:"redis"`
	Enrichment enrichment.Config `yaml:"enrichment"`
	Notify     notify.Config     `yaml:"notify"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Worker     WorkerConfig      `yaml:"worker"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"` // e.g., ":8080"
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PipelineConfig tunes the background job pipeline
type PipelineConfig struct {
	RetryMaxAttempts        int           `yaml:"retry_max_attempts"`
	RetryBaseDelay          time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay           time.Duration `yaml:"retry_max_delay"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerResetTimeout     time.Duration `yaml:"breaker_reset_timeout"`
	StatusTTL               time.Duration `yaml:"status_ttl"`
	DLQMaxRetries           int           `yaml:"dlq_max_retries"`
}

// WorkerConfig tunes the dead-letter replay worker
type WorkerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReplaySchedule string        `yaml:"replay_schedule"` // cron spec
	FlushInterval  time.Duration `yaml:"flush_interval"`  // Redis archive flush cadence
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Enrichment.BaseURL == "" {
		return errors.New("enrichment.base_url is required")
	}
	if c.Notify.WebhookURL == "" {
		return errors.New("notify.webhook_url is required")
	}
	if c.Pipeline.RetryMaxAttempts <= 0 {
		return fmt.Errorf("pipeline.retry_max_attempts must be positive, got %d", c.Pipeline.RetryMaxAttempts)
	}
	if c.Worker.Enabled && c.Worker.ReplaySchedule == "" {
		return errors.New("worker.replay_schedule is required when worker.enabled is true")
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Pipeline.RetryMaxAttempts == 0 {
		cfg.Pipeline.RetryMaxAttempts = 3
	}
	if cfg.Pipeline.RetryBaseDelay == 0 {
		cfg.Pipeline.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.Pipeline.RetryMaxDelay == 0 {
		cfg.Pipeline.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Pipeline.BreakerFailureThreshold == 0 {
		cfg.Pipeline.BreakerFailureThreshold = 5
	}
	if cfg.Pipeline.BreakerResetTimeout == 0 {
		cfg.Pipeline.BreakerResetTimeout = 60 * time.Second
	}
	if cfg.Pipeline.StatusTTL == 0 {
		cfg.Pipeline.StatusTTL = 30 * time.Minute
	}
	if cfg.Pipeline.DLQMaxRetries == 0 {
		cfg.Pipeline.DLQMaxRetries = 3
	}
	if cfg.Worker.ReplaySchedule == "" {
		cfg.Worker.ReplaySchedule = "*/5 * * * *"
	}
	if cfg.Worker.FlushInterval == 0 {
		cfg.Worker.FlushInterval = time.Minute
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ENRICHMENT_URL"); v != "" {
		cfg.Enrichment.BaseURL = v
	}
	if v := os.Getenv("ENRICHMENT_API_KEY"); v != "" {
		cfg.Enrichment.APIKey = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	// Port override comes after server defaults so it always wins
	if port := os.Getenv("LEADFLOW_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
