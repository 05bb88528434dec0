// Package repository implements the optimistic-lock versioned
// repository: updates succeed only if the stored version matches
// entity.version-1.
package repository

import (
	"context"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/retry"
)

// Repository is the uniform CAS contract both the in-memory and
// Postgres-backed implementations satisfy.
type Repository interface {
	Get(ctx context.Context, id string) (domain.Payment, error)
	// Create inserts a brand-new aggregate at version 1.
	Create(ctx context.Context, p domain.Payment) error
	// Update replaces the stored aggregate, succeeding only when the
	// stored version equals p.Version-1; on mismatch it returns an
	// errs.KindOptimisticConflict error.
	Update(ctx context.Context, p domain.Payment) error
	// FindAll returns every stored aggregate. Used by crash recovery
	// to enumerate aggregates that may be stuck mid-transition.
	FindAll(ctx context.Context) ([]domain.Payment, error)
}

// VersionedPaymentService wraps read-modify-write sequences in a
// bounded retry, the same backoff math as package retry, configured
// independently of the gateway retry policy.
type VersionedPaymentService struct {
	Repo   Repository
	Policy retry.Policy
}

// NewVersionedPaymentService builds a service over repo with policy.
func NewVersionedPaymentService(repo Repository, policy retry.Policy) *VersionedPaymentService {
	return &VersionedPaymentService{Repo: repo, Policy: policy}
}

// UpdateStatus loads the current aggregate, applies mutate, and
// attempts the CAS update, retrying the whole read-modify-write cycle
// on OptimisticLockConflict up to Policy.MaxRetries times.
func (s *VersionedPaymentService) UpdateStatus(ctx context.Context, id string, mutate func(domain.Payment) (domain.Payment, error)) (domain.Payment, error) {
	op := func(ctx context.Context, attempt int) (domain.Payment, error) {
		current, err := s.Repo.Get(ctx, id)
		if err != nil {
			return domain.Payment{}, err
		}
		next, err := mutate(current)
		if err != nil {
			return domain.Payment{}, err
		}
		if err := s.Repo.Update(ctx, next); err != nil {
			return domain.Payment{}, err
		}
		return next, nil
	}

	result := retry.ExecuteWithRetry(ctx, s.Policy, op, isOptimisticConflict)
	return result.Value, result.Err
}
