package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWithTTL is a thread-safe, size-bounded LRU cache with optional TTL
// expiration. The probability sweep uses it to memoize vertex enumerations of
// half-space polytopes, which recur across columns when many source regions
// map into overlapping images.
//
// Key features:
//   - Size-bounded (evicts least recently used when full)
//   - TTL expiration (entries expire after configured duration; 0 disables)
//   - Safe for concurrent access from sweep workers
//   - Hit/miss counters for observability
type LRUWithTTL[K comparable, V any] struct {
	cache   *lru.Cache[K, *ttlEntry[V]]
	ttl     time.Duration
	mu      sync.RWMutex
	hits    uint64
	misses  uint64
	evicted uint64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLRUWithTTL creates a cache holding at most size entries, each valid for
// ttl (0 means no expiration).
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration) (*LRUWithTTL[K, V], error) {
	cache, err := lru.New[K, *ttlEntry[V]](size)
	if err != nil {
		return nil, err
	}

	return &LRUWithTTL[K, V]{
		cache: cache,
		ttl:   ttl,
	}, nil
}

// Get retrieves a value. The second return is false when the key is absent
// or its entry has expired.
func (c *LRUWithTTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(key)
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.misses++
		var zero V
		return zero, false
	}

	c.hits++
	return entry.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRUWithTTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{}
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	evicted := c.cache.Add(key, &ttlEntry[V]{
		value:     value,
		expiresAt: expiresAt,
	})

	if evicted {
		c.evicted++
	}
}

// Delete removes a key from the cache.
func (c *LRUWithTTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(key)
}

// Len returns the number of entries in the cache.
func (c *LRUWithTTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cache.Len()
}

// Clear removes all entries from the cache.
func (c *LRUWithTTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
}

// CleanupExpired removes entries whose TTL has elapsed and returns how many
// were dropped. Callers with long-lived caches run this from a maintenance
// loop to keep Len meaningful.
func (c *LRUWithTTL[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return 0
	}

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		entry, ok := c.cache.Peek(key)
		if ok && now.After(entry.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// Close releases the cache contents. The cache must not be used afterwards.
func (c *LRUWithTTL[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
}

// Stats holds cache counters for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *LRUWithTTL[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}
