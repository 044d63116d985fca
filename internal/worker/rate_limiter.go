package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// tokenBucketLuaScript refills the bucket from the elapsed time and takes
// one token if available. The caller passes the clock so every process
// agrees on refill arithmetic even when Redis time differs.
const tokenBucketLuaScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
    tokens = burst
    ts = now
end

local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", key, math.ceil(burst * 1000 / rate) + 1000)
return {allowed, wait}
`

var tokenBucketScript = redis.NewScript(tokenBucketLuaScript)

// RateLimiter is a token bucket shared by every process through Redis.
// It satisfies the dispatch scheduler's Limiter.
type RateLimiter struct {
	redis *redis.Client
	key   string
	rate  float64 // tokens per second
	burst int
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a Redis token bucket under key refilling at
// perSecond with capacity burst.
func NewRateLimiter(client *redis.Client, key string, perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		redis: client,
		key:   "ratelimit:" + key,
		rate:  perSecond,
		burst: burst,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Take tries to take one token. When denied it returns how long until a
// token is available.
func (r *RateLimiter) Take(ctx context.Context) (bool, time.Duration, error) {
	res, err := tokenBucketScript.Run(ctx, r.redis, []string{r.key},
		r.rate, r.burst, r.now().UnixMilli()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

// Wait blocks until a token is taken or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait, err := r.Take(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// NewLocalLimiter is the single-process bucket used when Redis is not
// configured. perSecond <= 0 means unlimited.
func NewLocalLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
