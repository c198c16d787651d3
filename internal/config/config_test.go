package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, vars map[string]string) Config {
	t.Helper()
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: vars})
	require.NoError(t, err)
	cfg.Sanitize()
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parse(t, map[string]string{"SHOPIFY_WEBHOOK_SECRET": " s3cret "})

	assert.Equal(t, "s3cret", cfg.Server.WebhookSecret)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.IngestTimeout)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Zero(t, cfg.Server.ReplayWindow)
	assert.Zero(t, cfg.Server.RateLimitPerMin)

	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Pipeline.InitialBackoff)
	assert.Zero(t, cfg.Pipeline.MaxBackoff)
	assert.Equal(t, 168*time.Hour, cfg.Pipeline.AuditRetention)
	assert.Equal(t, 5, cfg.Pipeline.WorkerCount)
	assert.Equal(t, time.Minute, cfg.Pipeline.Lease())

	assert.Equal(t, 72*time.Hour, cfg.Storage.IdempotencyTTL)
	assert.Equal(t, "webhook.jobs.exhausted", cfg.Alerts.KafkaAlertTopic)
	assert.False(t, cfg.ERP.Enabled())
	assert.Equal(t, "info", cfg.LogLevel)

	require.NoError(t, cfg.Validate())
}

func TestOverridesAndSanitize(t *testing.T) {
	cfg := parse(t, map[string]string{
		"SHOPIFY_WEBHOOK_SECRET": "s",
		"MAX_ATTEMPTS":           "-1",
		"INITIAL_BACKOFF":        "250ms",
		"WORKER_COUNT":           "0",
		"HANDLER_TIMEOUT":        "10s",
		"LEASE_GRACE":            "5s",
		"KAFKA_BROKERS":          "kafka-1:9092, ,kafka-2:9092",
		"ERP_BASE_URL":           " https://erp.internal ",
		"LOG_LEVEL":              "DEBUG",
	})

	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.InitialBackoff)
	assert.Equal(t, 1, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.Lease())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Alerts.KafkaBrokers)
	assert.True(t, cfg.ERP.Enabled())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name      string
		vars      map[string]string
		expectErr string
	}{
		{name: "missing secret", vars: map[string]string{}, expectErr: "SHOPIFY_WEBHOOK_SECRET"},
		{name: "blank secret", vars: map[string]string{"SHOPIFY_WEBHOOK_SECRET": "   "}, expectErr: "SHOPIFY_WEBHOOK_SECRET"},
		{
			name:      "half configured oauth",
			vars:      map[string]string{"SHOPIFY_WEBHOOK_SECRET": "s", "ERP_CLIENT_ID": "id"},
			expectErr: "ERP_CLIENT_ID",
		},
		{
			name:      "bad log level",
			vars:      map[string]string{"SHOPIFY_WEBHOOK_SECRET": "s", "LOG_LEVEL": "loud"},
			expectErr: "LOG_LEVEL",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := parse(t, tc.vars)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}
