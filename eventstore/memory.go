package eventstore

import (
	"context"
	"sync"

	"github.com/plm/payment-orchestrator/domain"
)

// InMemoryStore is a process-local Store suitable for tests and
// single-process deployments.
type InMemoryStore struct {
	mu          sync.Mutex
	byAggregate map[string][]domain.Event
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byAggregate: make(map[string][]domain.Event)}
}

func (s *InMemoryStore) Append(ctx context.Context, aggregateID string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.byAggregate[aggregateID]
	var lastStored int64
	if len(existing) > 0 {
		lastStored = existing[len(existing)-1].Version
	}
	if _, err := NextVersion(lastStored, events); err != nil {
		return err
	}
	s.byAggregate[aggregateID] = append(existing, events...)
	return nil
}

func (s *InMemoryStore) GetEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.byAggregate[aggregateID]
	out := make([]domain.Event, len(events))
	copy(out, events)
	return out, nil
}

func (s *InMemoryStore) GetEventsAfterVersion(ctx context.Context, aggregateID string, version int64) ([]domain.Event, error) {
	all, err := s.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	var out []domain.Event
	for _, e := range all {
		if e.Version > version {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetCurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.byAggregate[aggregateID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}

func (s *InMemoryStore) GetEventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, events := range s.byAggregate {
		for _, e := range events {
			if e.EventType == eventType {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// AggregateIDs lists every aggregate with at least one event, for
// crash-recovery enumeration.
func (s *InMemoryStore) AggregateIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byAggregate))
	for id := range s.byAggregate {
		ids = append(ids, id)
	}
	return ids
}
