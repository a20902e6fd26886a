package repository

import (
	"context"
	"sync"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
)

// MemoryEventStore is the in-memory twin of the ClickHouse store, for tests
// and redis-less development runs.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*models.SpiritEvent
	nextID uint64
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

var _ repository.EventStore = (*MemoryEventStore)(nil)

func (s *MemoryEventStore) Init(ctx context.Context) error { return nil }

func (s *MemoryEventStore) Insert(ctx context.Context, e *models.SpiritEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	e.ID = s.nextID
	e.CreatedAt = time.Now()
	if e.Timestamp == 0 {
		e.Timestamp = e.CreatedAt.UnixMilli()
	}

	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryEventStore) Recent(ctx context.Context, limit int) ([]*models.SpiritEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit > n {
		limit = n
	}
	out := make([]*models.SpiritEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryEventStore) Query(ctx context.Context, from, to time.Time, limit int) ([]*models.SpiritEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SpiritEvent, 0)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		ts := time.UnixMilli(e.Timestamp)
		if ts.Before(from) || ts.After(to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryEventStore) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func (s *MemoryEventStore) Health(ctx context.Context) error { return nil }

func (s *MemoryEventStore) Close() error { return nil }
