package search

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is an in-process search.Cache backed by hashicorp/golang-lru,
// used for single-process deployments and tests; a Redis-backed Cache
// covers multi-process deployments sharing one cache.
type LRUCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	hits      []Hit
	expiresAt time.Time
}

// NewLRUCache builds a cache holding up to size merged results.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Get(ctx context.Context, key string) ([]Hit, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, false, nil
	}
	return entry.hits, true, nil
}

func (c *LRUCache) Set(ctx context.Context, key string, hits []Hit, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, cacheEntry{hits: hits, expiresAt: time.Now().Add(ttl)})
	return nil
}
