package dedupe

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements Cache as a SETNX hot-path short-circuit ahead of
// the primary dedupe store. Any Redis error is surfaced to the caller,
// which treats it as best-effort and falls through to the primary store
// rather than failing the request.
type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache wraps an existing redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client}
}

func (c *RedisCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, 1, ttl).Result()
}
