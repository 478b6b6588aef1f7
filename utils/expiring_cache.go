package utils

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ExpiringCache is a mutex-guarded map whose entries vanish after a TTL.
// Expired entries are treated as absent and are swept on every Put.
type ExpiringCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]cacheEntry[V]
	now     func() time.Time
}

func NewExpiringCache[K comparable, V any](now func() time.Time) *ExpiringCache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &ExpiringCache[K, V]{entries: make(map[K]cacheEntry[V]), now: now}
}

// Put stores val under key, replacing any previous entry.
func (c *ExpiringCache[K, V]) Put(key K, val V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	c.entries[key] = cacheEntry[V]{value: val, expiresAt: now.Add(ttl)}
}

// TakeIfPresent removes and returns the entry for key if it has not expired.
func (c *ExpiringCache[K, V]) TakeIfPresent(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	delete(c.entries, key)
	if !c.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds an unexpired entry without consuming it.
func (c *ExpiringCache[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.now().Before(e.expiresAt)
}

// Sweep drops every entry expired at now and returns how many were removed.
func (c *ExpiringCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *ExpiringCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ExpiringCache[K, V]) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
