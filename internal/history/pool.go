package history

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ashureev/crmchat/internal/store"
	"github.com/patrickmn/go-cache"
)

// DefaultIdleTimeout is how long an unused Registry stays cached.
const DefaultIdleTimeout = 30 * time.Minute

const lockStripes = 256

// Registries hands out Registries that share a store and the same options.
// Unused Registries are dropped after an idle timeout. Every Registry of a
// namespace locks the same stripe, so an evicted Registry that is still in
// use and its replacement never interleave.
type Registries struct {
	store store.Store
	opts  []Option
	regs  *cache.Cache // namespace -> *Registry
	locks [lockStripes]sync.Mutex
}

// NewRegistries creates a pool over s.
func NewRegistries(s store.Store, opts ...Option) *Registries {
	return newRegistries(s, DefaultIdleTimeout, opts...)
}

func newRegistries(s store.Store, idle time.Duration, opts ...Option) *Registries {
	return &Registries{
		store: s,
		opts:  opts,
		regs:  cache.New(idle, idle),
	}
}

// For returns the registry for namespace, creating it when none is cached.
func (p *Registries) For(namespace string) *Registry {
	if v, ok := p.regs.Get(namespace); ok {
		r := v.(*Registry)
		p.regs.SetDefault(namespace, r)
		return r
	}

	r := New(p.store, namespace, p.opts...)
	r.mu = p.lockFor(namespace)
	if err := p.regs.Add(namespace, r, cache.DefaultExpiration); err != nil {
		if v, ok := p.regs.Get(namespace); ok {
			return v.(*Registry)
		}
	}
	return r
}

// Cached returns the number of cached registries, expired ones included until
// the janitor removes them.
func (p *Registries) Cached() int {
	return p.regs.ItemCount()
}

func (p *Registries) lockFor(namespace string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(namespace))
	return &p.locks[h.Sum32()%lockStripes]
}

// Namespaces lists every namespace with persisted state.
func (p *Registries) Namespaces(ctx context.Context) ([]string, error) {
	return p.store.Namespaces(ctx)
}

// Store returns the shared store.
func (p *Registries) Store() store.Store {
	return p.store
}
