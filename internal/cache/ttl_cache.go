package cache

import (
	"sync"
	"time"

	"github.com/smallbiznis/partnerledger/internal/clock"
)

// Loader fetches the authoritative value on a miss. found=false results are
// not cached so a setting that appears later is picked up immediately.
type Loader[V any] func() (value V, found bool, err error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache keeps recently read settings in memory. Expiry follows the
// engine clock, so tests driving a manual clock also drive the cache.
type TTLCache[K comparable, V any] struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	items map[K]entry[V]
}

// New returns a cache whose entries live for ttl. A ttl of zero disables
// caching and every lookup goes to the loader.
func New[K comparable, V any](c clock.Clock, ttl time.Duration) *TTLCache[K, V] {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &TTLCache[K, V]{clock: c, ttl: ttl, items: make(map[K]entry[V])}
}

// GetOrLoad returns the cached value for key or calls load and caches a found
// result.
func (c *TTLCache[K, V]) GetOrLoad(key K, load Loader[V]) (V, bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if now.Before(e.expiresAt) {
			c.mu.Unlock()
			return e.value, true, nil
		}
		delete(c.items, key)
	}
	c.mu.Unlock()

	value, found, err := load()
	if err != nil || !found || c.ttl <= 0 {
		return value, found, err
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return value, true, nil
}

// Invalidate drops key so the next read reloads it.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
