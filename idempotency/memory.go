package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/plm/payment-orchestrator/errs"
)

// InMemoryStore is a process-local Store. Expiration is both lazy
// (Get drops an expired record on read) and swept explicitly by
// Cleanup, both via the same IsExpired predicate, so neither path can
// disagree about what counts as expired.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Get(ctx context.Context, scopedKey string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scopedKey]
	if !ok {
		return Record{}, false, nil
	}
	if rec.IsExpired(time.Now()) {
		delete(s.records, scopedKey)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *InMemoryStore) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ScopedKey] = rec
	return nil
}

func (s *InMemoryStore) UpdateTerminal(ctx context.Context, scopedKey string, status Status, result json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scopedKey]
	if !ok {
		return errs.New(errs.KindNotFound, "idempotency record not found")
	}
	rec.Status = status
	rec.CachedResult = result
	rec.CachedError = errMsg
	s.records[scopedKey] = rec
	return nil
}

// Delete removes one record unconditionally.
func (s *InMemoryStore) Delete(ctx context.Context, scopedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, scopedKey)
	return nil
}

// Cleanup removes every record expired as of now.
func (s *InMemoryStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if rec.IsExpired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}
