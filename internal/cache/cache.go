// Package cache keeps recently fetched odds pools in memory.
package cache

import (
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/yourusername/trio-odds/internal/metrics"
	"github.com/yourusername/trio-odds/internal/odds"
)

// Key identifies one market pool of one race
type Key struct {
	RaceKey string
	Market  odds.Market
}

// String returns the cache key in market:raceKey form
func (k Key) String() string {
	return k.Market.String() + ":" + k.RaceKey
}

// PoolCache provides TTL caching for bridge pools
type PoolCache struct {
	cache   *gocache.Cache
	ttl     time.Duration
	maxSize int

	mu        sync.Mutex // serializes writers so the size check and insert are atomic
	hitCount  atomic.Uint64
	missCount atomic.Uint64
}

// NewPoolCache creates a new pool cache
func NewPoolCache(ttl, cleanup time.Duration, maxSize int) *PoolCache {
	if cleanup <= 0 {
		cleanup = ttl * 2
	}
	return &PoolCache{
		cache:   gocache.New(ttl, cleanup),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get retrieves a cached pool. The returned pool is a copy.
func (pc *PoolCache) Get(key Key) (odds.Pool, bool) {
	if v, found := pc.cache.Get(key.String()); found {
		if pool, ok := v.(odds.Pool); ok {
			pc.hitCount.Add(1)
			pc.updateMetrics()
			return maps.Clone(pool), true
		}
	}

	pc.missCount.Add(1)
	pc.updateMetrics()
	return nil, false
}

// Set stores a copy of pool
func (pc *PoolCache) Set(key Key, pool odds.Pool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.maxSize > 0 && pc.cache.ItemCount() >= pc.maxSize {
		pc.cache.DeleteExpired()
		if pc.cache.ItemCount() >= pc.maxSize {
			pc.evictOldest()
		}
	}

	pc.cache.Set(key.String(), maps.Clone(pool), pc.ttl)
}

// Invalidate removes every market pool cached for raceKey
func (pc *PoolCache) Invalidate(raceKey string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	suffix := ":" + raceKey
	for k := range pc.cache.Items() {
		if strings.HasSuffix(k, suffix) {
			pc.cache.Delete(k)
		}
	}
}

// Flush empties the cache and resets statistics
func (pc *PoolCache) Flush() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.cache.Flush()
	pc.hitCount.Store(0)
	pc.missCount.Store(0)
	pc.updateMetrics()
}

// Stats returns cache statistics
func (pc *PoolCache) Stats() (hits, misses uint64, ratio float64) {
	hits = pc.hitCount.Load()
	misses = pc.missCount.Load()
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return
}

// ItemCount returns the number of items in cache
func (pc *PoolCache) ItemCount() int {
	return pc.cache.ItemCount()
}

// evictOldest drops the entry closest to expiry. Caller holds mu.
func (pc *PoolCache) evictOldest() {
	var (
		oldestKey string
		oldestExp int64
	)
	for k, item := range pc.cache.Items() {
		if oldestKey == "" || item.Expiration < oldestExp {
			oldestKey, oldestExp = k, item.Expiration
		}
	}
	if oldestKey != "" {
		pc.cache.Delete(oldestKey)
	}
}

func (pc *PoolCache) updateMetrics() {
	_, _, ratio := pc.Stats()
	metrics.UpdateCacheHitRatio(ratio)
}
