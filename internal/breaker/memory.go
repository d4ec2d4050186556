package breaker

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps breaker state in process memory. It is safe for
// concurrent use within one process but does not coordinate across processes;
// multi-process deployments must use RedisStorage instead.
type MemoryStorage struct {
	mu     sync.Mutex
	open   map[string]openRecord
	events map[string][]time.Time
	now    func() time.Time
}

type openRecord struct {
	openedAt int64
	state    State
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		open:   make(map[string]openRecord),
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryStorage) LastOpen(_ context.Context, integrationID string) (int64, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.open[integrationID]
	return rec.openedAt, rec.state, nil
}

func (s *MemoryStorage) UpdateOpen(_ context.Context, integrationID string, openedAt int64, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[integrationID] = openRecord{openedAt: openedAt, state: state}
	return nil
}

func (s *MemoryStorage) RegisterEvent(_ context.Context, integrationID, counter string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := integrationID + ":" + counter
	now := s.now()
	cutoff := now.Add(-ttl)

	kept := s.events[key][:0]
	for _, t := range s.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.events[key] = kept
	return len(kept), nil
}

func (s *MemoryStorage) ClearState(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, integrationID)
	delete(s.events, integrationID+":"+counterError)
	delete(s.events, integrationID+":"+counterTotal)
	return nil
}
