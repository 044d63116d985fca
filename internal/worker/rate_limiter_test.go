package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, perSecond float64, burst int) (*RateLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(client, "ses", perSecond, burst)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(t, 2, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Take(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "token %d should be available", i)
	}

	ok, wait, err := l.Take(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	*clock = clock.Add(500 * time.Millisecond)
	ok, _, err = l.Take(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_WaitSleepsUntilRefill(t *testing.T) {
	l, clock := newTestLimiter(t, 1, 1)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		*clock = clock.Add(d)
		return nil
	}

	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, []time.Duration{time.Second}, slept)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx))

	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestNewLocalLimiter(t *testing.T) {
	unlimited := NewLocalLimiter(0, 0)
	assert.NoError(t, unlimited.Wait(context.Background()))

	l := NewLocalLimiter(10, 0)
	assert.Equal(t, 1, l.Burst())
}
