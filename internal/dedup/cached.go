package dedup

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached answers repeated positive Contains calls from memory. Hub redeliveries
// arrive in bursts, so the common case never reaches the backend.
//
// Negative answers are never cached: an unmatched id must stay re-routable.
type Cached struct {
	inner Store
	hits  *cache.Cache
}

func NewCached(inner Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{inner: inner, hits: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Contains(ctx context.Context, id string) (bool, error) {
	if _, ok := c.hits.Get(id); ok {
		return true, nil
	}
	ok, err := c.inner.Contains(ctx, id)
	if err == nil && ok {
		c.hits.SetDefault(id, struct{}{})
	}
	return ok, err
}

func (c *Cached) Commit(ctx context.Context, id string) error {
	err := c.inner.Commit(ctx, id)
	// The inner store keeps failed ids in memory too, so cache either way.
	c.hits.SetDefault(id, struct{}{})
	return err
}

func (c *Cached) Len() int { return c.inner.Len() }

func (c *Cached) Close() error {
	c.hits.Flush()
	return c.inner.Close()
}
