package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and development.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

func (s *MemoryStore) Load(_ context.Context, keys Keys) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[keys.Count], nil
}

func (s *MemoryStore) Add(ctx context.Context, keys Keys, n int64, periodStart, now time.Time) (Counter, error) {
	c, _, err := s.AddWithin(ctx, keys, n, -1, periodStart, now)
	return c, err
}

func (s *MemoryStore) AddWithin(_ context.Context, keys Keys, n, limit int64, periodStart, now time.Time) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[keys.Count]
	if c.LastUsed.Before(periodStart) {
		c.Count = 0
	}
	if limit >= 0 && c.Count+n > limit {
		return c, false, nil
	}
	c.Count += n
	c.Total += n
	c.LastUsed = now.UTC()
	s.counters[keys.Count] = c
	return c, true, nil
}

func (s *MemoryStore) Refund(_ context.Context, keys Keys, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[keys.Count]
	c.Count = max(c.Count-n, 0)
	s.counters[keys.Count] = c
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, keys Keys) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[keys.Count]
	c.Count = 0
	c.LastUsed = time.Time{}
	s.counters[keys.Count] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...Keys) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.counters, k.Count)
	}
	return nil
}
