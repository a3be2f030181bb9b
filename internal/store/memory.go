package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) Put(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[r.ID]; ok {
		return fmt.Errorf("put record %q: %w", r.ID, ErrDuplicateRecord)
	}
	s.ids[r.ID] = struct{}{}
	s.records = append(s.records, r)
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
