package crm

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Lookup is the user lookup contract shared by every backend.
type Lookup interface {
	FindByEmail(ctx context.Context, email string) (map[string]any, error)
	GetByID(ctx context.Context, id string) (map[string]any, error)
}

// Cached remembers successful lookups for a TTL. Misses and errors are not cached.
type Cached struct {
	next  Lookup
	cache *cache.Cache
}

// NewCached wraps next. A non-positive ttl returns next unchanged.
func NewCached(next Lookup, ttl time.Duration) Lookup {
	if ttl <= 0 {
		return next
	}
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// GetByID implements Lookup.
func (c *Cached) GetByID(ctx context.Context, id string) (map[string]any, error) {
	return c.lookup("id:"+id, func() (map[string]any, error) {
		return c.next.GetByID(ctx, id)
	})
}

// FindByEmail implements Lookup.
func (c *Cached) FindByEmail(ctx context.Context, email string) (map[string]any, error) {
	return c.lookup("email:"+strings.ToLower(strings.TrimSpace(email)), func() (map[string]any, error) {
		return c.next.FindByEmail(ctx, email)
	})
}

// Invalidate drops every cached entry.
func (c *Cached) Invalidate() {
	c.cache.Flush()
}

func (c *Cached) lookup(key string, load func() (map[string]any, error)) (map[string]any, error) {
	if v, ok := c.cache.Get(key); ok {
		return maps.Clone(v.(map[string]any)), nil
	}
	user, err := load()
	if err != nil || user == nil {
		return user, err
	}
	c.cache.SetDefault(key, maps.Clone(user))
	return user, nil
}
