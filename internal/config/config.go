package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campaign engine binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Mail        MailConfig        `yaml:"mail"`
	SES         SESConfig         `yaml:"ses"`
	Unsubscribe UnsubscribeConfig `yaml:"unsubscribe"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return c.GetHost() + ":" + strconv.Itoa(c.Port)
}

// DatabaseConfig selects the relational store. An empty URL runs the
// binaries on the in-memory store.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig enables the shared rate limiter and dispatch lock.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig tunes campaign dispatch.
type DispatchConfig struct {
	BatchSize           int     `yaml:"batch_size"`
	BatchDelayMs        int     `yaml:"batch_delay_ms"` // negative disables
	Workers             int     `yaml:"workers"`
	RatePerSecond       float64 `yaml:"rate_per_second"`
	Burst               int     `yaml:"burst"`
	MaxRateLimitRetries int     `yaml:"max_rate_limit_retries"`
	LockTTLMinutes      int     `yaml:"lock_ttl_minutes"`
}

// BatchDelay returns the inter-batch pause as a duration
func (c DispatchConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// LockTTL returns the dispatch lock TTL as a duration
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// MailConfig is the sender identity and content defaults.
type MailConfig struct {
	Provider   string `yaml:"provider"` // "ses" or "log"
	FromName   string `yaml:"from_name"`
	FromEmail  string `yaml:"from_email"`
	ReplyTo    string `yaml:"reply_to"`
	FooterHTML string `yaml:"footer_html"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	// UseDefaultCredentials resolves credentials from the AWS default chain
	// (env, shared config, task role) instead of static keys.
	UseDefaultCredentials bool `yaml:"use_default_credentials"`
}

// UnsubscribeConfig configures unsubscribe links.
type UnsubscribeConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
	TTLDays    int    `yaml:"ttl_days"` // 0 disables expiry
}

// TTL returns the token lifetime as a duration
func (c UnsubscribeConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// LedgerConfig selects where campaign events are stored.
type LedgerConfig struct {
	Backend      string `yaml:"backend"` // "postgres", "dynamo" or "memory"
	DynamoTable  string `yaml:"dynamo_table"`
	DynamoRegion string `yaml:"dynamo_region"`
}

// TrackingConfig configures the unsubscribe edge and its queue.
type TrackingConfig struct {
	Port        int    `yaml:"port"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	SQSRegion   string `yaml:"sqs_region"`
}

// RecoveryConfig tunes the stuck-dispatch recovery worker.
type RecoveryConfig struct {
	IntervalSeconds   int    `yaml:"interval_seconds"`
	StaleAfterMinutes int    `yaml:"stale_after_minutes"`
	Policy            string `yaml:"policy"` // "resume" or "fail"
}

// Interval returns the scan interval as a duration
func (c RecoveryConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StaleAfter returns the staleness cutoff as a duration
func (c RecoveryConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.BatchDelayMs == 0 {
		cfg.Dispatch.BatchDelayMs = 1000
	}
	if cfg.Dispatch.RatePerSecond == 0 {
		cfg.Dispatch.RatePerSecond = 14 // SES sandbox default
	}
	if cfg.Dispatch.Burst == 0 {
		cfg.Dispatch.Burst = int(cfg.Dispatch.RatePerSecond)
	}
	if cfg.Dispatch.MaxRateLimitRetries == 0 {
		cfg.Dispatch.MaxRateLimitRetries = 3
	}
	if cfg.Dispatch.LockTTLMinutes == 0 {
		cfg.Dispatch.LockTTLMinutes = 10
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "ses"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Unsubscribe.BaseURL == "" {
		cfg.Unsubscribe.BaseURL = "http://localhost:8080"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "postgres"
	}
	if cfg.Ledger.DynamoTable == "" {
		cfg.Ledger.DynamoTable = "campaign_events"
	}
	if cfg.Tracking.Port == 0 {
		cfg.Tracking.Port = 8081
	}
	if cfg.Recovery.IntervalSeconds == 0 {
		cfg.Recovery.IntervalSeconds = 120
	}
	if cfg.Recovery.StaleAfterMinutes == 0 {
		cfg.Recovery.StaleAfterMinutes = 10
	}
	if cfg.Recovery.Policy == "" {
		cfg.Recovery.Policy = "resume"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. A
// missing config file is not an error; defaults are used instead.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Mail.Provider = v
	}
	if v := os.Getenv("MAIL_FROM_EMAIL"); v != "" {
		cfg.Mail.FromEmail = v
	}
	if v := os.Getenv("MAIL_FROM_NAME"); v != "" {
		cfg.Mail.FromName = v
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if v := os.Getenv("AWS_SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}
	if v := os.Getenv("UNSUBSCRIBE_SIGNING_KEY"); v != "" {
		cfg.Unsubscribe.SigningKey = v
	}
	if v := os.Getenv("UNSUBSCRIBE_BASE_URL"); v != "" {
		cfg.Unsubscribe.BaseURL = v
	}
	if v := os.Getenv("LEDGER_BACKEND"); v != "" {
		cfg.Ledger.Backend = v
	}
	if v := os.Getenv("DYNAMO_LEDGER_TABLE"); v != "" {
		cfg.Ledger.DynamoTable = v
	}
	if v := os.Getenv("SQS_UNSUBSCRIBE_QUEUE_URL"); v != "" {
		cfg.Tracking.SQSQueueURL = v
	}
	if v := os.Getenv("RECOVERY_POLICY"); v != "" {
		cfg.Recovery.Policy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_REDACT_PII"); v != "" {
		cfg.Log.RedactPII = v == "true" || v == "1"
	}

	// Without a database the ledger cannot live in Postgres.
	if cfg.Database.URL == "" && cfg.Ledger.Backend == "postgres" {
		cfg.Ledger.Backend = "memory"
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
