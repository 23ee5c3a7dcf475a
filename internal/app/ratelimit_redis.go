package app

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "drp:ratelimit:"

// RedisRateLimiter is a fixed-window limiter shared by every instance that
// points at the same Redis. When Redis is unreachable requests are allowed.
type RedisRateLimiter struct {
	client *redis.Client
	max    int64
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, max int, window time.Duration) *RedisRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{client: client, max: int64(max), window: window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	k := rateLimitKeyPrefix + key
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("ratelimit: redis: %v", err)
		return true
	}
	return incr.Val() <= l.max
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
