package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"octo/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	key := domain.PeerRateLimitKey("events/poll", "orn:koi-net.node:a+01")

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(context.Background(), key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(context.Background(), key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, now.Add(time.Minute), decision.ResetAt)

	other, err := limiter.Allow(context.Background(), domain.PeerRateLimitKey("events/poll", "orn:koi-net.node:b+02"), 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	now = now.Add(time.Minute + time.Second)
	decision, err = limiter.Allow(context.Background(), key, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
}

func TestMemoryLimiter_Capacity(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 1})

	_, err := limiter.Allow(context.Background(), "a", 1, time.Second)
	require.NoError(t, err)
	_, err = limiter.Allow(context.Background(), "b", 1, time.Second)
	require.True(t, errors.Is(err, ErrCapacityExceeded))

	now = now.Add(2 * time.Second)
	_, err = limiter.Allow(context.Background(), "b", 1, time.Second)
	require.NoError(t, err)
}

func TestRedisLimiter_SharedCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	now := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	limiter := NewRedisLimiter(client, func() time.Time { return now })
	other := NewRedisLimiter(client, func() time.Time { return now })
	require.NoError(t, limiter.Ping(context.Background()))

	key := domain.PeerRateLimitKey("events/broadcast", "orn:koi-net.node:a+01")
	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(context.Background(), key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 2-i, decision.Remaining)
	}
	decision, err := other.Allow(context.Background(), key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC), decision.ResetAt)

	windowStart := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, mr.Exists(windowKey(key, windowStart)))
	assert.Equal(t, 50*time.Second, mr.TTL(windowKey(key, windowStart)))

	now = now.Add(time.Minute)
	decision, err = limiter.Allow(context.Background(), key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Remaining)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRedisLimiter(client, nil)
	mr.Close()

	require.Error(t, limiter.Ping(context.Background()))
	_, err := limiter.Allow(context.Background(), "k", 1, time.Second)
	require.Error(t, err)
}
