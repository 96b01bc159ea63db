// Package cache provides the read-through, invalidate-on-write cache
// in front of the lock store. Lock state changes rarely, so entries
// carry a long TTL and are removed by explicit invalidation on every
// mutation rather than by expiry.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the default entry lifetime. Lock state is actively
// invalidated on write; the TTL is only a backstop.
const DefaultTTL = 30 * 24 * time.Hour

// Backend is a key-value store holding encoded lock bits.
type Backend interface {
	// Get returns the cached bits and whether the key was present.
	Get(ctx context.Context, key string) (uint64, bool, error)
	// Set stores bits under key for the given TTL.
	Set(ctx context.Context, key string, bits uint64, ttl time.Duration) error
	// Delete removes key if present; a miss is not an error.
	Delete(ctx context.Context, key string) error
}

// Loader fetches the value for a key from the source of truth.
type Loader func(ctx context.Context) (uint64, error)

// LockCache is a read-through cache with a single-flight guarantee:
// concurrent misses for the same key trigger at most one backing load.
type LockCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group

	// gen counts invalidations per key. A flight records the count
	// before loading and re-checks it after repopulating, removing the
	// entry again if an invalidation landed in between, so a committed
	// mutation is never masked by a pre-change value written back.
	mu  sync.Mutex
	gen map[string]uint64
}

// New creates a LockCache over the given backend. A non-positive ttl
// selects DefaultTTL.
func New(backend Backend, ttl time.Duration) *LockCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LockCache{backend: backend, ttl: ttl, gen: make(map[string]uint64)}
}

func (c *LockCache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[key]
}

// GetOrLoad returns the cached value for key, calling loader and
// repopulating the cache on miss. Backend failures propagate to the
// caller rather than silently falling through to the loader, so access
// evaluation can fail closed on them.
func (c *LockCache) GetOrLoad(ctx context.Context, key string, loader Loader) (uint64, error) {
	bits, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		return bits, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have populated the key while this call
		// waited on the group.
		bits, ok, err := c.backend.Get(ctx, key)
		if err != nil {
			return uint64(0), err
		}
		if ok {
			return bits, nil
		}

		before := c.generation(key)
		bits, err = loader(ctx)
		if err != nil {
			return uint64(0), err
		}
		if err := c.backend.Set(ctx, key, bits, c.ttl); err != nil {
			return uint64(0), err
		}
		// An invalidation between the load and the Set above means the
		// entry just written predates a committed mutation. Remove it;
		// this flight's waiters still get the loaded value, and the
		// next read misses and loads fresh state.
		if c.generation(key) != before {
			if err := c.backend.Delete(ctx, key); err != nil {
				return uint64(0), err
			}
		}
		return bits, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Invalidate removes key from the backend. Callers must invalidate
// after every committed mutation, before reporting success. Any open
// flight for the key is forgotten and barred from repopulating it with
// a value read before the mutation.
func (c *LockCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	c.gen[key]++
	c.mu.Unlock()
	c.group.Forget(key)
	return c.backend.Delete(ctx, key)
}
