package repository

import (
	"context"
	"sync"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
)

func isOptimisticConflict(err error) bool {
	return errs.Is(err, errs.KindOptimisticConflict)
}

// InMemoryRepository is a process-local Repository: a single mutex
// guards the map, and Update compares-and-swaps on Version.
type InMemoryRepository struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
}

// NewInMemoryRepository constructs an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{payments: make(map[string]domain.Payment)}
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.Payment{}, errs.New(errs.KindNotFound, "payment not found")
	}
	return p, nil
}

func (r *InMemoryRepository) Create(ctx context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[p.ID]; exists {
		return errs.New(errs.KindOptimisticConflict, "payment already exists")
	}
	r.payments[p.ID] = p
	return nil
}

func (r *InMemoryRepository) Update(ctx context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[p.ID]
	if !ok {
		return errs.New(errs.KindNotFound, "payment not found")
	}
	if stored.Version != p.Version-1 {
		return errs.New(errs.KindOptimisticConflict, "stored version does not match expected predecessor")
	}
	r.payments[p.ID] = p
	return nil
}

// FindAll returns every stored payment in no particular order.
func (r *InMemoryRepository) FindAll(ctx context.Context) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, p)
	}
	return out, nil
}
