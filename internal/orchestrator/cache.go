// Package orchestrator coordinates background work against one store:
// sync runs and their event feed, the auto-sync schedule, the LLM
// enrichment pass, and a small TTL cache for the dashboard aggregations.
package orchestrator

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long cached payloads stay fresh.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	at  time.Time
	val any
}

// Cache is a TTL memo keyed by name. Sync and enrichment runs invalidate
// the keys they make stale.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry

	now func() time.Time
}

// NewCache returns a cache with the given TTL. Zero or negative means
// DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns the cached value for key, or false when absent or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		return nil, false
	}
	return e.val, true
}

// Set stores val under key, restarting its TTL.
func (c *Cache) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{at: c.now(), val: val}
}

// Invalidate drops the given keys.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Memo returns the cached value for key, computing and caching it with fn
// on a miss. Errors are not cached.
func Memo[T any](c *Cache, key string, fn func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	val, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, val)
	return val, nil
}
