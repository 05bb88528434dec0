package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/lock"
)

// Engine wires a Store and a lock.Manager together to run
// ExecuteIdempotent calls for one deployment.
type Engine struct {
	Store  Store
	Locks  lock.Manager
	Config Config
}

// NewEngine constructs an Engine from its two collaborators.
func NewEngine(store Store, locks lock.Manager, cfg Config) *Engine {
	return &Engine{Store: store, Locks: locks, Config: cfg}
}

// Cleanup sweeps expired records out of the backing store. Intended
// to run periodically from a background goroutine owned by the caller.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	return e.Store.Cleanup(ctx, time.Now())
}

// DoWork is the unit of work executeIdempotent admits at most once.
type DoWork[T any] func(ctx context.Context) (T, error)

// ExecuteIdempotent admits doWork at most once per scope.
// merchantID+operation+callerKey identify the admission scope;
// requestBody is hashed (never stored) to detect a caller reusing the
// same callerKey for a materially different request.
func ExecuteIdempotent[T any](ctx context.Context, e *Engine, merchantID, operation, callerKey string, requestBody any, doWork DoWork[T]) (T, error) {
	var zero T

	scopedKey := ScopedKey(merchantID, operation, callerKey)
	fingerprint, err := Fingerprint(requestBody)
	if err != nil {
		return zero, err
	}

	lease, err := e.acquireWithRetry(ctx, scopedKey)
	if err != nil {
		return zero, err
	}

	rec, found, err := e.Store.Get(ctx, scopedKey)
	if err != nil {
		_ = e.Locks.Release(ctx, lease)
		return zero, errs.Wrap(errs.KindInternal, err, "read idempotency record")
	}

	if !found {
		now := time.Now()
		if err := e.Store.Insert(ctx, Record{
			ScopedKey:          scopedKey,
			RequestFingerprint: fingerprint,
			Status:             StatusProcessing,
			CreatedAt:          now,
			ExpiresAt:          now.Add(e.Config.TTL),
		}); err != nil {
			_ = e.Locks.Release(ctx, lease)
			return zero, errs.Wrap(errs.KindInternal, err, "insert idempotency record")
		}
		_ = e.Locks.Release(ctx, lease)

		result, workErr := doWork(ctx)
		if workErr != nil {
			_ = e.Store.UpdateTerminal(ctx, scopedKey, StatusFailed, nil, workErr.Error())
			return zero, workErr
		}
		data, err := json.Marshal(result)
		if err != nil {
			return zero, errs.Wrap(errs.KindInternal, err, "marshal idempotent result")
		}
		if err := e.Store.UpdateTerminal(ctx, scopedKey, StatusCompleted, data, ""); err != nil {
			return zero, errs.Wrap(errs.KindInternal, err, "persist completed idempotency record")
		}
		return result, nil
	}

	// A record already exists: PROCESSING means some other caller (or
	// process) is in flight; anything else is already terminal.
	if rec.Status == StatusProcessing {
		_ = e.Locks.Release(ctx, lease)
		return pollForTerminal[T](ctx, e, scopedKey, fingerprint)
	}

	_ = e.Locks.Release(ctx, lease)
	return decodeTerminal[T](rec, fingerprint)
}

// acquireWithRetry re-attempts lease acquisition at RetryInterval when
// the manager reports the lock as held, rather than failing the whole
// admission; fail-fast managers (Redis SET NX) and blocking managers
// both end up with the same wait-until-free behavior.
func (e *Engine) acquireWithRetry(ctx context.Context, scopedKey string) (lock.Lease, error) {
	for attempt := 0; ; attempt++ {
		lease, err := e.Locks.Acquire(ctx, scopedKey, e.Config.LockTimeout)
		if err == nil {
			return lease, nil
		}
		if !errs.Is(err, errs.KindLockTimeout) || attempt >= e.Config.MaxRetries {
			return lock.Lease{}, errs.Wrap(errs.KindLockTimeout, err, "acquire idempotency lease")
		}
		timer := time.NewTimer(e.Config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lock.Lease{}, errs.Wrap(errs.KindLockTimeout, ctx.Err(), "lease acquisition cancelled")
		case <-timer.C:
		}
	}
}

func pollForTerminal[T any](ctx context.Context, e *Engine, scopedKey, fingerprint string) (T, error) {
	var zero T
	for attempt := 0; attempt < e.Config.MaxRetries; attempt++ {
		timer := time.NewTimer(e.Config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errs.Wrap(errs.KindLockTimeout, ctx.Err(), "idempotency poll cancelled")
		case <-timer.C:
		}

		rec, found, err := e.Store.Get(ctx, scopedKey)
		if err != nil {
			return zero, errs.Wrap(errs.KindInternal, err, "poll idempotency record")
		}
		if !found {
			// Record expired mid-poll; there is nothing left to wait for.
			return zero, errs.New(errs.KindLockTimeout, fmt.Sprintf("idempotency record %q vanished while polling", scopedKey))
		}
		if rec.Status != StatusProcessing {
			return decodeTerminal[T](rec, fingerprint)
		}
	}
	return zero, errs.New(errs.KindLockTimeout, fmt.Sprintf("idempotency record %q never reached a terminal state", scopedKey))
}

func decodeTerminal[T any](rec Record, fingerprint string) (T, error) {
	var zero T
	if rec.RequestFingerprint != fingerprint {
		return zero, errs.New(errs.KindFingerprintMismatch, "request fingerprint does not match the cached admission for this key")
	}
	if rec.Status == StatusFailed {
		return zero, errors.New(rec.CachedError)
	}
	var result T
	if err := json.Unmarshal(rec.CachedResult, &result); err != nil {
		return zero, errs.Wrap(errs.KindInternal, err, "decode cached idempotent result")
	}
	return result, nil
}
