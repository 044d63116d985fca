package dispatch

import "time"

// Defaults for Config fields left at zero.
const (
	DefaultBatchSize           = 50
	DefaultBatchDelay          = time.Second
	DefaultMaxRateLimitRetries = 3
	DefaultLockTTL             = 10 * time.Minute
)

// Config tunes the scheduler and carries the sender identity.
type Config struct {
	BatchSize           int
	BatchDelay          time.Duration // negative disables the inter-batch pause
	Workers             int           // per-batch pool size; defaults to BatchSize
	MaxRateLimitRetries int
	LockTTL             time.Duration

	FromName           string
	FromEmail          string
	ReplyTo            string
	UnsubscribeBaseURL string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	} else if c.BatchDelay == 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.Workers <= 0 || c.Workers > c.BatchSize {
		c.Workers = c.BatchSize
	}
	if c.MaxRateLimitRetries < 0 {
		c.MaxRateLimitRetries = 0
	} else if c.MaxRateLimitRetries == 0 {
		c.MaxRateLimitRetries = DefaultMaxRateLimitRetries
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	return c
}
