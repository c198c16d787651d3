// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	Storage  StorageConfig
	ERP      ERPConfig
	Alerts   AlertsConfig
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig covers the ingestion endpoint.
type ServerConfig struct {
	Port            string        `env:"SERVER_PORT"            envDefault:"8080"`
	WebhookSecret   string        `env:"SHOPIFY_WEBHOOK_SECRET"`
	IngestTimeout   time.Duration `env:"INGEST_TIMEOUT"         envDefault:"3s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES"         envDefault:"1048576"`
	ReplayWindow    time.Duration `env:"REPLAY_WINDOW"          envDefault:"0"`
	RateLimitPerMin int           `env:"RATE_LIMIT_PER_MIN"     envDefault:"0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"       envDefault:"30s"`
}

// PipelineConfig covers retries, workers and the reaper.
type PipelineConfig struct {
	MaxAttempts    int           `env:"MAX_ATTEMPTS"    envDefault:"5"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF"     envDefault:"0"`
	AuditRetention time.Duration `env:"AUDIT_RETENTION" envDefault:"168h"`
	WorkerCount    int           `env:"WORKER_COUNT"    envDefault:"5"`
	PollInterval   time.Duration `env:"POLL_INTERVAL"   envDefault:"500ms"`
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"30s"`
	LeaseGrace     time.Duration `env:"LEASE_GRACE"     envDefault:"30s"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`
}

// Lease is how long a claimed job may stay Running.
func (c PipelineConfig) Lease() time.Duration {
	return c.HandlerTimeout + c.LeaseGrace
}

// StorageConfig selects the queue and idempotency backends.
type StorageConfig struct {
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"72h"`
}

// ERPConfig points at the internal order system.
type ERPConfig struct {
	BaseURL      string `env:"ERP_BASE_URL"`
	TokenURL     string `env:"ERP_TOKEN_URL"`
	ClientID     string `env:"ERP_CLIENT_ID"`
	ClientSecret string `env:"ERP_CLIENT_SECRET"`
}

// Enabled reports whether order handlers have somewhere to sync to.
func (c ERPConfig) Enabled() bool { return c.BaseURL != "" }

// AlertsConfig selects the optional exhaustion sinks.
type AlertsConfig struct {
	SlackWebhookURL string   `env:"SLACK_WEBHOOK_URL"`
	SlackChannel    string   `env:"SLACK_CHANNEL"`
	KafkaBrokers    []string `env:"KAFKA_BROKERS"     envSeparator:","`
	KafkaAlertTopic string   `env:"KAFKA_ALERT_TOPIC" envDefault:"webhook.jobs.exhausted"`
}

// Load reads a .env file if present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize trims strings and replaces out-of-range values with defaults.
func (c *Config) Sanitize() {
	c.Server.WebhookSecret = strings.TrimSpace(c.Server.WebhookSecret)
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.IngestTimeout <= 0 {
		c.Server.IngestTimeout = 3 * time.Second
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ReplayWindow < 0 {
		c.Server.ReplayWindow = 0
	}
	if c.Server.RateLimitPerMin < 0 {
		c.Server.RateLimitPerMin = 0
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	p := &c.Pipeline
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff < 0 {
		p.MaxBackoff = 0
	}
	if p.WorkerCount <= 0 {
		p.WorkerCount = 1
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 500 * time.Millisecond
	}
	if p.HandlerTimeout < 0 {
		p.HandlerTimeout = 0
	}
	if p.LeaseGrace <= 0 {
		p.LeaseGrace = 30 * time.Second
	}
	if p.ReaperInterval <= 0 {
		p.ReaperInterval = time.Minute
	}
	if p.AuditRetention < 0 {
		p.AuditRetention = 0
	}

	c.Storage.DatabaseURL = strings.TrimSpace(c.Storage.DatabaseURL)
	c.Storage.RedisURL = strings.TrimSpace(c.Storage.RedisURL)
	if c.Storage.IdempotencyTTL <= 0 {
		c.Storage.IdempotencyTTL = 72 * time.Hour
	}

	c.ERP.BaseURL = strings.TrimSpace(c.ERP.BaseURL)
	c.Alerts.SlackWebhookURL = strings.TrimSpace(c.Alerts.SlackWebhookURL)
	brokers := c.Alerts.KafkaBrokers[:0]
	for _, b := range c.Alerts.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Alerts.KafkaBrokers = brokers
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.WebhookSecret == "" {
		errs = append(errs, errors.New("SHOPIFY_WEBHOOK_SECRET is required"))
	}
	if (c.ERP.ClientID == "") != (c.ERP.TokenURL == "") {
		errs = append(errs, errors.New("ERP_CLIENT_ID and ERP_TOKEN_URL must be set together"))
	}
	if len(c.Alerts.KafkaBrokers) > 0 && strings.TrimSpace(c.Alerts.KafkaAlertTopic) == "" {
		errs = append(errs, errors.New("KAFKA_ALERT_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
