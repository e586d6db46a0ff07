package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the shared-store fixed-window counter for multi-instance
// deployments. INCR + EXPIRE on first hit; fails open when Redis is down so
// an outage never blocks checkout.
type RedisLimiter struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, windowDur time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 10
	}
	if windowDur <= 0 {
		windowDur = time.Minute
	}
	return &RedisLimiter{Client: client, Limit: limit, Window: windowDur, Prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	k := l.Prefix + key
	n, err := l.Client.Incr(ctx, k).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		l.Client.Expire(ctx, k, l.Window)
	}
	return n <= int64(l.Limit)
}
