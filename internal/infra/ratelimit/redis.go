package ratelimit

import (
	"context"
	"strconv"
	"time"

	"octo/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "octo:ratelimit:"

// RedisLimiter keeps fixed-window counters in redis so every node behind one address shares them.
// Each window gets its own key, named by the window start, which expires when the window closes.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}
}

// Ping reports whether the backing redis is reachable.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, span time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if span <= 0 {
		span = time.Second
	}
	now := r.now()
	start := now.Truncate(span)
	resetAt := start.Add(span)

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		k := windowKey(key, start)
		count = pipe.Incr(ctx, k)
		pipe.PExpire(ctx, k, resetAt.Sub(now))
		return nil
	})
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	used := int(count.Val())
	return domain.RateLimitDecision{
		Allowed:   used <= limit,
		Limit:     limit,
		Remaining: max(limit-used, 0),
		ResetAt:   resetAt,
	}, nil
}

func windowKey(key string, start time.Time) string {
	return redisKeyPrefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}
