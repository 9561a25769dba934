package ttlcache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a store that could not be reached. Callers degrade instead of failing.
var ErrUnavailable = errors.New("cache store unavailable")

// Store is a best-effort keyed byte store with per-key TTL.
// Get returns found=false for missing or expired keys; err is reserved for store failures.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
}

// MemoryStore adapts Cache to the Store contract. It is process-local.
type MemoryStore struct {
	cache *Cache[string, []byte]
}

// NewMemoryStore creates an in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: New[string, []byte]()}
}

// NewMemoryStoreWithClock creates an in-process store with an injectable clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{cache: NewWithClock[string, []byte](now)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.cache.Put(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryStore) Evict(_ context.Context, key string) error {
	m.cache.Evict(key)
	return nil
}

// Purge drops expired entries.
func (m *MemoryStore) Purge() int {
	return m.cache.Purge()
}

// Prefixed namespaces every key of an underlying store.
type Prefixed struct {
	Store  Store
	Prefix string
}

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.Store.Get(ctx, p.Prefix+key)
}

func (p Prefixed) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Store.Put(ctx, p.Prefix+key, value, ttl)
}

func (p Prefixed) Evict(ctx context.Context, key string) error {
	return p.Store.Evict(ctx, p.Prefix+key)
}
