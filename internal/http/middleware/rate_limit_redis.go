package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFixedWindowLimiter shares counters between instances. Each key
// counts hits in the current window and expires with it.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	policy = policy.normalized()
	redisKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, err
	}
	window, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if window <= 0 {
		if err := l.client.PExpire(ctx, redisKey, policy.Window).Err(); err != nil {
			return Decision{}, err
		}
		window = policy.Window
	}

	now := time.Now()
	d := Decision{
		Allowed:   int(count) <= policy.Limit,
		Remaining: max(policy.Limit-int(count), 0),
		ResetAt:   now.Add(window),
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}
