// Package ttlcache provides keyed caches whose entries expire after a TTL.
//
// Cache is the in-process generic form. Store is the byte-level contract shared by
// the report cache and the alert cooldown store so they can live in memory, SQLite
// or Redis behind the same Get/Put/Evict calls.
package ttlcache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a mutex-guarded map of values with per-entry expiry.
// A zero ttl on Put means the entry never expires.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
	now   func() time.Time
}

// New creates an empty cache using the wall clock.
func New[K comparable, V any]() *Cache[K, V] {
	return NewWithClock[K, V](time.Now)
}

// NewWithClock creates an empty cache with an injectable clock.
func NewWithClock[K comparable, V any](now func() time.Time) *Cache[K, V] {
	return &Cache[K, V]{items: make(map[K]item[V]), now: now}
}

func (c *Cache[K, V]) fresh(it item[V]) bool {
	return it.expiresAt.IsZero() || c.now().Before(it.expiresAt)
}

// Get returns the value only while it is fresh.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || !c.fresh(it) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Peek returns the value even when expired. fresh reports whether it is still live.
func (c *Cache[K, V]) Peek(key K) (value V, present bool, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false, false
	}
	return it.value, true, c.fresh(it)
}

// Put stores value under key for ttl.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item[V]{value: value}
	if ttl > 0 {
		it.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = it
}

// Evict removes key.
func (c *Cache[K, V]) Evict(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge drops every expired entry and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, it := range c.items {
		if !c.fresh(it) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len counts entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
