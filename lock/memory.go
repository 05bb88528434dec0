package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plm/payment-orchestrator/errs"
)

// entry tracks one named lease. Waiters are woken via closing done
// when the holder releases or the lease expires.
type entry struct {
	token     string
	expiresAt time.Time
	done      chan struct{}
}

// InMemoryManager is a process-local Manager suitable for tests and
// single-process deployments.
type InMemoryManager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewInMemoryManager constructs an empty InMemoryManager.
func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{entries: make(map[string]*entry)}
}

func (m *InMemoryManager) liveLocked(name string, now time.Time) *entry {
	e, ok := m.entries[name]
	if !ok {
		return nil
	}
	if now.After(e.expiresAt) {
		close(e.done)
		delete(m.entries, name)
		return nil
	}
	return e
}

// Acquire blocks until name is free or ctx is done. Waiting happens on
// the held entry's done channel rather than polling.
func (m *InMemoryManager) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	for {
		m.mu.Lock()
		now := time.Now()
		existing := m.liveLocked(name, now)
		if existing == nil {
			token := uuid.NewString()
			e := &entry{token: token, expiresAt: now.Add(ttl), done: make(chan struct{})}
			m.entries[name] = e
			m.mu.Unlock()
			return Lease{Name: name, Token: token, ExpiresAt: e.expiresAt}, nil
		}
		wait := existing.done
		expiry := time.NewTimer(existing.expiresAt.Sub(now))
		m.mu.Unlock()

		select {
		case <-wait:
			// fall through and retry acquisition
		case <-expiry.C:
			// lease expired without release; retry acquisition
		case <-ctx.Done():
			expiry.Stop()
			return Lease{}, errs.Wrap(errs.KindLockTimeout, ctx.Err(), "lock acquisition cancelled")
		}
	}
}

// Release frees name if lease.Token matches the current holder.
func (m *InMemoryManager) Release(ctx context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[lease.Name]
	if !ok || e.token != lease.Token {
		return nil
	}
	close(e.done)
	delete(m.entries, lease.Name)
	return nil
}

// Extend pushes out lease's expiry, failing if the token no longer
// matches the current holder (it expired and was reacquired by
// someone else in the meantime).
func (m *InMemoryManager) Extend(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[lease.Name]
	if !ok || e.token != lease.Token {
		return Lease{}, errs.New(errs.KindLockTimeout, "lease no longer held")
	}
	e.expiresAt = time.Now().Add(ttl)
	lease.ExpiresAt = e.expiresAt
	return lease, nil
}
