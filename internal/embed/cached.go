package embed

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// Cached memoizes vectors of an inner Embedder.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached keeps up to size vectors.
func NewCached(inner Embedder, size int64) (*Cached, error) {
	if size < 1 {
		size = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create embedding cache")
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Name() string {
	return c.inner.Name()
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			c.hits.Add(1)
			return append([]float32(nil), vec...), nil
		}
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Stats returns cache hits and misses.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cached) Close() {
	c.cache.Close()
}
