package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  cors_origins: ["https://app.example.com"]

database:
  url: "postgres://localhost/campaigns?sslmode=disable"

dispatch:
  batch_size: 100
  batch_delay_ms: -1
  workers: 8
  rate_per_second: 50

mail:
  provider: log
  from_name: "Newsletter"
  from_email: "news@example.com"

unsubscribe:
  base_url: "https://mail.example.com"
  signing_key: "secret"
  ttl_days: 30

ledger:
  backend: dynamo
  dynamo_table: events

recovery:
  policy: fail
  stale_after_minutes: 15
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://localhost/campaigns?sslmode=disable", cfg.Database.URL)

	// Dispatch config
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
	assert.Equal(t, -time.Millisecond, cfg.Dispatch.BatchDelay())
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, 50.0, cfg.Dispatch.RatePerSecond)
	assert.Equal(t, 50, cfg.Dispatch.Burst)

	assert.Equal(t, "log", cfg.Mail.Provider)
	assert.Equal(t, "news@example.com", cfg.Mail.FromEmail)
	assert.Equal(t, 30*24*time.Hour, cfg.Unsubscribe.TTL())
	assert.Equal(t, "dynamo", cfg.Ledger.Backend)
	assert.Equal(t, "events", cfg.Ledger.DynamoTable)
	assert.Equal(t, "fail", cfg.Recovery.Policy)
	assert.Equal(t, 15*time.Minute, cfg.Recovery.StaleAfter())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Minimal config
	err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 50, cfg.Dispatch.BatchSize)
	assert.Equal(t, time.Second, cfg.Dispatch.BatchDelay())
	assert.Equal(t, 3, cfg.Dispatch.MaxRateLimitRetries)
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.LockTTL())
	assert.Equal(t, "ses", cfg.Mail.Provider)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Recovery.Interval())
	assert.Equal(t, "resume", cfg.Recovery.Policy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Zero(t, cfg.Unsubscribe.TTL())
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/prod")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("AWS_SES_ACCESS_KEY", "AKIA")
	t.Setenv("AWS_SES_SECRET_KEY", "shh")
	t.Setenv("UNSUBSCRIBE_SIGNING_KEY", "k1")
	t.Setenv("SQS_UNSUBSCRIBE_QUEUE_URL", "https://sqs/unsub")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/prod", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "AKIA", cfg.SES.AccessKey)
	assert.Equal(t, "shh", cfg.SES.SecretKey)
	assert.Equal(t, "k1", cfg.Unsubscribe.SigningKey)
	assert.Equal(t, "https://sqs/unsub", cfg.Tracking.SQSQueueURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
}

func TestLoadFromEnv_NoDatabaseFallsBackToMemoryLedger(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
}
