// Package cache provides a small generic read-through cache with per-entry
// time-to-live. Staleness is checked lazily on read; there is no background
// eviction goroutine.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry[V any] struct {
	value    V
	cachedAt time.Time
	ttl      time.Duration
}

// TTL is a bounded TTL cache. Reads are safe under arbitrary concurrency;
// writes to any single key are expected to come from one owner at a time (the
// lifecycle manager serializes mutations per creator).
type TTL[K comparable, V any] struct {
	entries *lru.Cache[K, entry[V]]
	now     func() time.Time
}

// New creates a TTL cache holding at most size entries.
func New[K comparable, V any](size int) (*TTL[K, V], error) {
	entries, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &TTL[K, V]{entries: entries, now: time.Now}, nil
}

// Get returns the cached value for key if it is present and fresh. Stale
// entries are evicted on the spot.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	e, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.cachedAt) >= e.ttl {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key with the given ttl, replacing any prior entry.
func (c *TTL[K, V]) Put(key K, value V, ttl time.Duration) {
	c.entries.Add(key, entry[V]{value: value, cachedAt: c.now(), ttl: ttl})
}

// Invalidate drops the entry for key, if any.
func (c *TTL[K, V]) Invalidate(key K) {
	c.entries.Remove(key)
}

// InvalidateAll drops every entry.
func (c *TTL[K, V]) InvalidateAll() {
	c.entries.Purge()
}

// Len returns the number of entries currently held, fresh or not.
func (c *TTL[K, V]) Len() int {
	return c.entries.Len()
}
