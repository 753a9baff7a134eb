package session

import (
	"sync"
	"time"

	"github.com/ashureev/crmchat/internal/history"
	"github.com/patrickmn/go-cache"
)

// Pool hands out one Coordinator per namespace and drops coordinators that
// have been idle for history.DefaultIdleTimeout. All coordinators share one
// background WaitGroup, so Wait also covers evicted ones.
type Pool struct {
	registries *history.Registries
	opts       []Option
	coords     *cache.Cache // namespace -> *Coordinator
	background sync.WaitGroup
}

// NewPool creates a Pool whose coordinators share opts.
func NewPool(registries *history.Registries, opts ...Option) *Pool {
	return newPool(registries, history.DefaultIdleTimeout, opts...)
}

func newPool(registries *history.Registries, idle time.Duration, opts ...Option) *Pool {
	return &Pool{
		registries: registries,
		opts:       opts,
		coords:     cache.New(idle, idle),
	}
}

// For returns the coordinator for namespace, creating it when none is cached.
func (p *Pool) For(namespace string) *Coordinator {
	if v, ok := p.coords.Get(namespace); ok {
		c := v.(*Coordinator)
		p.coords.SetDefault(namespace, c)
		return c
	}

	c := New(p.registries.For(namespace), p.opts...)
	c.background = &p.background
	if err := p.coords.Add(namespace, c, cache.DefaultExpiration); err != nil {
		if v, ok := p.coords.Get(namespace); ok {
			return v.(*Coordinator)
		}
	}
	return c
}

// Cached returns the number of cached coordinators.
func (p *Pool) Cached() int {
	return p.coords.ItemCount()
}

// Registries returns the underlying registry pool.
func (p *Pool) Registries() *history.Registries {
	return p.registries
}

// Wait blocks until background work of every coordinator finishes.
func (p *Pool) Wait() {
	p.background.Wait()
}
