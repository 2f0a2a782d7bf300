// Package cache memoizes expensive computations per key, with a time to
// live, a size bound and single-flight loading.
//
// An entry inserted at t is served until now - t exceeds the ttl given on
// lookup. When the cache is full the least recently used entry is evicted.
// Concurrent misses on the same key share one computation; errors are never
// stored.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of entries kept when no size is configured.
const DefaultSize = 128

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Computes  uint64
	Shared    uint64
	Evictions uint64
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	name string
	now  func() time.Time

	mu  sync.Mutex
	lru *simplelru.LRU[string, entry[V]]

	group singleflight.Group

	hits, misses, computes, shared, evictions atomic.Uint64

	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type config struct {
	now      func() time.Time
	interval time.Duration
}

// Option configures a Cache.
type Option func(*config)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithCleanupInterval starts a janitor that drops expired entries every d.
// Without it, expired entries are dropped lazily on lookup.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// New returns a cache holding at most size entries. A size <= 0 means
// DefaultSize.
func New[V any](name string, size int, opts ...Option) (*Cache[V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	cfg := config{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	l, err := simplelru.NewLRU[string, entry[V]](size, nil)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", name, err)
	}
	c := &Cache[V]{
		name:     name,
		now:      cfg.now,
		lru:      l,
		interval: cfg.interval,
		stop:     make(chan struct{}),
	}
	c.startJanitor()
	return c, nil
}

// Name returns the name given to New.
func (c *Cache[V]) Name() string { return c.name }

// Get returns the entry for key if it is younger than ttl.
func (c *Cache[V]) Get(key string, ttl time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if c.now().Sub(e.insertedAt) > ttl {
		c.lru.Remove(key)
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// GetOrCompute returns the cached value for key when it is younger than
// ttl. Otherwise it runs compute, stores the result and returns it. The
// boolean reports whether the value came from the cache.
//
// Callers missing on the same key at the same time share a single call to
// compute. The computation is detached from the cancellation of the caller
// that started it, so that it still reaches the other waiters and the
// cache; a caller whose context ends stops waiting and gets ctx.Err().
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(key, ttl); ok {
		return v, true, nil
	}
	v, err := c.load(ctx, key, key, ttl, compute)
	return v, false, err
}

// Refresh runs compute for key regardless of any cached entry and stores
// the result. Other keys are left untouched. A refresh never joins a
// lookup already in flight for key: it always starts its own computation.
// Concurrent refreshes of the same key share one.
func (c *Cache[V]) Refresh(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	return c.load(ctx, key+refreshSuffix, key, ttl, compute)
}

// refreshSuffix separates the flights of Refresh from those of GetOrCompute.
const refreshSuffix = "\x00refresh"

// load runs compute under the single-flight key flight and stores the
// result under key. A panic in compute is returned as an error.
func (c *Cache[V]) load(ctx context.Context, flight, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flight, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("cache %s: compute panicked: %v", c.name, r)
			}
		}()
		c.computes.Add(1)
		val, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.store(key, val, ttl)
		return val, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *Cache[V]) store(key string, v V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evicted := c.lru.Add(key, entry[V]{value: v, insertedAt: c.now(), ttl: ttl}); evicted {
		c.evictions.Add(1)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Computes:  c.computes.Load(),
		Shared:    c.shared.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *Cache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && now.Sub(e.insertedAt) > e.ttl {
			c.lru.Remove(key)
		}
	}
}

func (c *Cache[V]) startJanitor() {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.deleteExpired()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the janitor. It is safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
