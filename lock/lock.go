// Package lock implements named mutual-exclusion leases with TTL.
// A Lease is an opaque token; holders present it back to
// Release/Extend so a lease cannot be released or extended by anyone
// but its owner.
package lock

import (
	"context"
	"time"
)

// Lease is the opaque handle returned by Acquire.
type Lease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

// Manager is the uniform lock-manager contract. Both the in-memory
// and Redis-backed implementations satisfy it, so the idempotency
// engine and the orchestrator never know which backing store is in
// play.
type Manager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
	Extend(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error)
}
