// Package cache provides a fixed-capacity LRU cache safe for concurrent use.
package cache

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/m-mizutani/goerr/v2"
)

// LRU maps keys to values and evicts the least recently used entry once
// capacity is reached. Get and Put both count as a use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[K, V]
	capacity int
	evicted  int64
	purging  bool
	log      *bolt.Logger
}

type Option func(*options)

type options struct {
	log *bolt.Logger
}

// WithLogger logs capacity evictions at debug level.
func WithLogger(log *bolt.Logger) Option {
	return func(o *options) { o.log = log }
}

// New creates an LRU holding at most capacity entries. Capacity must be at
// least 1.
func New[K comparable, V any](capacity int, opts ...Option) (*LRU[K, V], error) {
	if capacity < 1 {
		return nil, goerr.Wrap(memory.ErrInvalidInput, "cache capacity must be positive", goerr.V("capacity", capacity))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &LRU[K, V]{capacity: capacity, log: o.log}
	l, err := simplelru.NewLRU[K, V](capacity, c.onEvict)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create lru", goerr.V("capacity", capacity))
	}
	c.lru = l
	return c, nil
}

// onEvict runs under c.mu. Purge also reports every entry here; those are
// not evictions.
func (c *LRU[K, V]) onEvict(key K, _ V) {
	if c.purging || c.log == nil {
		return
	}
	c.log.Debug().Str("key", fmt.Sprint(key)).Int("capacity", c.capacity).Msg("cache entry evicted")
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put inserts or overwrites key. At capacity the least recently used entry
// is evicted first. It reports whether an eviction happened.
func (c *LRU[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.lru.Add(key, value)
	if evicted {
		c.evicted++
	}
	return evicted
}

// Contains reports presence without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Evictions returns how many entries were pushed out by capacity.
func (c *LRU[K, V]) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purging = true
	c.lru.Purge()
	c.purging = false
}
