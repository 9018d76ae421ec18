package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests. It mirrors the Redis
// semantics the engine relies on: per-key atomicity and counter expiry set
// on the first increment of a window.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	sets     map[string]map[string]struct{}
	counters map[string]*counter
	// now is swappable so tests can control window expiry
	now func() time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string][]byte),
		sets:     make(map[string]map[string]struct{}),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// SetClock overrides the store clock (tests only)
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetJSON implements Store
func (s *MemoryStore) GetJSON(ctx context.Context, key string, v any) error {
	s.mu.Lock()
	data, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// PutJSON implements Store
func (s *MemoryStore) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key] = data
	s.mu.Unlock()
	return nil
}

// Incr implements Store
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		c = &counter{expiresAt: s.now().Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// TTL implements Store
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	ttl := c.expiresAt.Sub(s.now())
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// SetAdd implements Store
func (s *MemoryStore) SetAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

// SetContains implements Store
func (s *MemoryStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sets[key][member]
	return ok, nil
}

// SetSize implements Store
func (s *MemoryStore) SetSize(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.sets[key])), nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
