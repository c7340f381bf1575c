// Package cache is a small read-through TTL cache. Time comes from an
// injected clock so expiry is testable without sleeping.
package cache

import (
	"sync"
	"time"

	"github.com/daviddao/poflow/internal/clock"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL caches values per key for a fixed lifetime. An entry is served while
// its age is at most the lifetime. A zero lifetime disables caching.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[K]entry[V]
}

// New returns an empty cache.
func New[K comparable, V any](c clock.Clock, ttl time.Duration) *TTL[K, V] {
	if c == nil {
		c = clock.System{}
	}
	return &TTL[K, V]{
		clock:   c,
		ttl:     ttl,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the cached value for key if it has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key.
func (c *TTL[K, V]) Put(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.clock.Now()}
}

// Invalidate drops the given keys.
func (c *TTL[K, V]) Invalidate(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Purge drops every entry.
func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of entries, expired ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
