package cache

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	"tripwire/internal/metrics"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cache is an in-process TTL store with single-flight population.
// Entries expire lazily: nothing sweeps them, but a read never returns one
// whose TTL has passed.
type Cache struct {
	store  *gocache.Cache
	flight singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Active  int   `json:"active"`
	Expired int   `json:"expired"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// PopulateFunc produces the value for a missing key.
type PopulateFunc func(ctx context.Context) (any, error)

func New() *Cache {
	// a zero cleanup interval keeps go-cache from starting its janitor
	return &Cache{store: gocache.New(gocache.NoExpiration, 0)}
}

func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return v, ok
}

// Set stores value under key. A ttl <= 0 never expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.store.Set(key, value, ttl)
}

// GetOrSet returns the fresh value for key, waits for a population already in
// flight, or runs populate once and stores its result. A failed populate
// stores nothing and its error reaches every waiter. Cancelling ctx stops this
// caller from waiting but does not cancel the shared populate.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, populate PopulateFunc) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		// another flight may have finished between the miss and DoChan
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		v, err := populate(detached)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.CacheLookups.WithLabelValues("shared").Inc()
		}
		return res.Val, res.Err
	}
}

func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// InvalidatePattern removes every live key matching glob (path.Match syntax)
// and returns how many were removed. A malformed pattern matches nothing.
func (c *Cache) InvalidatePattern(glob string) int {
	removed := 0
	for key := range c.store.Items() {
		ok, err := path.Match(glob, key)
		if err != nil {
			return 0
		}
		if ok {
			c.store.Delete(key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Stats() Stats {
	active := len(c.store.Items())
	total := c.store.ItemCount()
	expired := total - active
	if expired < 0 {
		expired = 0
	}
	return Stats{
		Active:  active,
		Expired: expired,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
