package subscription

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) GetByCustomer(_ context.Context, customerID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if customerID != "" && r.CustomerID == customerID {
			return r.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CustomerID != "" {
		for id, other := range s.records {
			if id != r.UserID && other.CustomerID == r.CustomerID {
				return ErrCustomerConflict
			}
		}
	}
	s.records[r.UserID] = r.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, dueBefore time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if _, ok := r.Pending(); !ok {
			continue
		}
		if r.NextBillingDate != nil && r.NextBillingDate.Before(dueBefore) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Record) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (s *MemoryStore) All(_ context.Context, fn func(*Record) error) error {
	s.mu.RLock()
	snapshot := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		snapshot = append(snapshot, r.Clone())
	}
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
