package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	res       CachedResult
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation for tests and single-node
// development without Redis.
type MemoryStore struct {
	mu    sync.RWMutex
	m     map[string]memoryEntry
	ttl   time.Duration
	nowFn func() time.Time
}

// NewMemoryStore returns an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		m:     make(map[string]memoryEntry),
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Lookup returns the cached result for key if present and not expired.
func (s *MemoryStore) Lookup(ctx context.Context, key string) (*CachedResult, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.After(s.nowFn()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return nil, nil
	}
	res := e.res
	return &res, nil
}

// Put stores res under key until the TTL elapses.
func (s *MemoryStore) Put(ctx context.Context, key string, res *CachedResult) error {
	s.mu.Lock()
	s.m[key] = memoryEntry{res: *res, expiresAt: s.nowFn().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}
