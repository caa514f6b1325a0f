package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a search.Cache shared across every API frontend
// process, backed by the same redis client tenant.Semaphore and
// ratelimit.Limiter already use for cross-process shared state.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache builds a Cache over an existing redis client.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Hit, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var hits []Hit
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, false, err
	}
	return hits, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, hits []Hit, ttl time.Duration) error {
	raw, err := json.Marshal(hits)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(key), raw, ttl).Err()
}

func cacheKey(key string) string {
	return "search:cache:" + key
}
