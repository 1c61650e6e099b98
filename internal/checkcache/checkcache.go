// Package checkcache contains a cache of expensive computations keyed by string
// with a TTL, a capacity, and at most one concurrent computation per key.
package checkcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"golang.org/x/sync/singleflight"
)

// Default values for the cache configuration.
const (
	DefaultCapacity = 256
	DefaultMaxAge   = 6 * time.Hour
)

// ComputeFunc computes the value for a key missing from the cache.  ctx is not
// canceled when a single caller stops waiting.
type ComputeFunc[V any] func(ctx context.Context) (v V, err error)

// Config is the configuration structure for a [Cache].
type Config struct {
	// Clock is used to get the time of entries creation and to check their
	// age.  It must not be nil.
	Clock timeutil.Clock

	// MaxAge is the maximum age of a returned entry.  It must be positive.
	MaxAge time.Duration

	// Capacity is the maximum number of entries.  It must be positive.
	Capacity int
}

// entry is a single cached value.
type entry[V any] struct {
	created time.Time
	key     string
	value   V
}

// Cache is a cache with a TTL and least-recently-updated eviction.  Concurrent
// lookups of a missing key share a single computation.
type Cache[V any] struct {
	clock timeutil.Clock
	group *singleflight.Group

	// mu protects entries and order.
	mu *sync.Mutex

	// entries maps keys to the elements of order.
	entries map[string]*list.Element

	// order contains *entry[V] values, the most recently updated at the
	// front.
	order *list.List

	maxAge   time.Duration
	capacity int
}

// New returns a new properly initialized *Cache.  c must not be nil and must
// be valid.
func New[V any](c *Config) (cache *Cache[V]) {
	return &Cache[V]{
		clock:    c.Clock,
		group:    &singleflight.Group{},
		mu:       &sync.Mutex{},
		entries:  make(map[string]*list.Element, c.Capacity),
		order:    list.New(),
		maxAge:   c.MaxAge,
		capacity: c.Capacity,
	}
}

// Get returns the value for key.  If there is no fresh value, compute is
// called, unless a computation for key is already running, in which case its
// result is shared.  Successful results are stored, errors are not.  If ctx is
// canceled before the value is ready, Get returns ctx.Err() while the
// computation goes on for the other callers.
func (c *Cache[V]) Get(
	ctx context.Context,
	key string,
	compute ComputeFunc[V],
) (v V, cached bool, err error) {
	v, ok := c.get(key)
	if ok {
		return v, true, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	resCh := c.group.DoChan(key, func() (val any, flightErr error) {
		defer func() {
			if r := recover(); r != nil {
				flightErr = fmt.Errorf("computing %q: panic: %v", key, r)
			}
		}()

		// Check again, since a flight for this key could have finished
		// between the lookup and the call.
		if fresh, found := c.get(key); found {
			return fresh, nil
		}

		computed, flightErr := compute(flightCtx)
		if flightErr != nil {
			return nil, flightErr
		}

		c.set(key, computed)

		return computed, nil
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return v, false, res.Err
		}

		return res.Val.(V), false, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// get returns the fresh value for key, deleting it if it's expired.
func (c *Cache[V]) get(key string) (v V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return v, false
	}

	e := elem.Value.(*entry[V])
	if c.clock.Now().Sub(e.created) > c.maxAge {
		c.remove(elem)

		return v, false
	}

	return e.value, true
}

// set stores v for key, moves it to the front of the update order, and evicts
// the least recently updated entries over capacity.
func (c *Cache[V]) set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[V]{
		created: c.clock.Now(),
		key:     key,
		value:   v,
	}

	if elem, ok := c.entries[key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
	} else {
		c.entries[key] = c.order.PushFront(e)
	}

	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
}

// remove deletes elem from the cache.  c.mu must be locked.
func (c *Cache[V]) remove(elem *list.Element) {
	e := c.order.Remove(elem).(*entry[V])
	delete(c.entries, e.key)
}

// Len returns the number of stored entries, including the expired ones that
// haven't been looked up yet.
func (c *Cache[V]) Len() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// Validate returns an error if c is not a valid cache configuration.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	var errs []error
	if c.Clock == nil {
		errs = append(errs, fmt.Errorf("clock: %w", errors.ErrNoValue))
	}

	if c.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("max age: %w: %s", errors.ErrNotPositive, c.MaxAge))
	}

	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity: %w: %d", errors.ErrNotPositive, c.Capacity))
	}

	return errors.Join(errs...)
}
