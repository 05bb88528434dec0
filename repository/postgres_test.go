package repository

import (
	"context"
	"testing"
	"time"

	"github.com/plm/payment-orchestrator/domain"
)

// TestPostgresRepositoryCASRoundTrip dials a live database via
// DefaultConfig and fails loudly if one isn't reachable, rather than
// silently skipping.
func TestPostgresRepositoryCASRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	repo, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer repo.Close()

	p := newTestPayment("pg-cas-1")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := p.WithState(domain.StateAuthenticated, time.Now())
	if err := repo.Update(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.Get(ctx, "pg-cas-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StateAuthenticated || got.Version != 2 {
		t.Fatalf("unexpected state after update: %+v", got)
	}

	stale := p.WithState(domain.StateAuthenticated, time.Now())
	if err := repo.Update(ctx, stale); err == nil {
		t.Fatal("expected stale version update to be rejected")
	}
}

func TestPostgresRepositoryFindAllIncludesCreatedPayment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	repo, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer repo.Close()

	p := newTestPayment("pg-findall-1")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("findAll: %v", err)
	}
	for _, got := range all {
		if got.ID == p.ID {
			return
		}
	}
	t.Fatalf("expected %s among FindAll results", p.ID)
}
