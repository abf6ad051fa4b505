package discovery

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry pairs a cached Ranking with the time it was computed, so the
// cache can enforce a TTL on top of the LRU's size bound (spec §4.D
// two-tier cache: LRU eviction plus time-based staleness).
type cacheEntry struct {
	result Ranking
	at     time.Time
}

// resultCache is the query-level cache: (query text + tool-set content
// hash) -> ranked result, bounded by both recency (LRU) and age (TTL).
type resultCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c, _ := lru.New[string, cacheEntry](size)
	return &resultCache{lru: c, ttl: ttl}
}

func (c *resultCache) get(key string) (Ranking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return Ranking{}, false
	}
	if time.Since(e.at) > c.ttl {
		c.lru.Remove(key)
		return Ranking{}, false
	}
	return e.result, true
}

func (c *resultCache) put(key string, result Ranking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry{result: result, at: time.Now()})
}
