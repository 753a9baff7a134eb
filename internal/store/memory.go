package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
)

const memoryKeySep = "\x00"

// MemoryStore implements Store in process memory. Nothing survives a restart.
type MemoryStore struct {
	cache  *cache.Cache
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates an empty in-memory store. Entries never expire.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func memoryKey(namespace, key string) string {
	return namespace + memoryKeySep + key
}

func (s *MemoryStore) checkOpen(op, namespace, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wrap(op, namespace, key, ErrClosed)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	if err := s.checkOpen("get", namespace, key); err != nil {
		return nil, false, err
	}
	v, ok := s.cache.Get(memoryKey(namespace, key))
	if !ok {
		return nil, false, nil
	}
	b := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, namespace, key string, value []byte) error {
	if err := s.checkOpen("set", namespace, key); err != nil {
		return err
	}
	b := make([]byte, len(value))
	copy(b, value)
	s.cache.Set(memoryKey(namespace, key), b, cache.NoExpiration)
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, namespace, key string) error {
	if err := s.checkOpen("remove", namespace, key); err != nil {
		return err
	}
	s.cache.Delete(memoryKey(namespace, key))
	return nil
}

// Namespaces implements Store.
func (s *MemoryStore) Namespaces(_ context.Context) ([]string, error) {
	if err := s.checkOpen("namespaces", "", ""); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for k := range s.cache.Items() {
		ns, _, ok := strings.Cut(k, memoryKeySep)
		if ok {
			seen[ns] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return s.checkOpen("ping", "", "")
}

// Close implements Store. Every later call fails with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cache.Flush()
	return nil
}

var _ Store = (*MemoryStore)(nil)
