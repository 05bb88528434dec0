// Package idempotency implements the idempotent-admission engine: a
// scoped key and request fingerprint guard doWork so it runs at most
// once per scope, across callers and process restarts, provided the
// backing Store and lock.Manager are durable and globally visible.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/plm/payment-orchestrator/errs"
)

// Status is the terminal-or-not state of one IdempotencyRecord.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record is one idempotent admission's stored state. CachedResult holds the
// doWork return value (never the raw request) serialized as JSON;
// CachedError holds doWork's error message when Status is FAILED.
type Record struct {
	ScopedKey          string
	RequestFingerprint string
	Status             Status
	CachedResult       json.RawMessage
	CachedError        string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// IsExpired reports whether rec has outlived its TTL as of now. Both
// the lazy-on-access path (Store.Get) and the explicit Cleanup sweep
// use this single predicate so the two never disagree about what
// counts as expired.
func (r Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store persists IdempotencyRecords. Implementations must make Get
// and Insert/UpdateTerminal sequences observed under a held
// lock.Manager lease appear atomic to other callers of the same
// scopedKey. This package relies on the caller holding that lease
// across the admission decision, not on Store-level locking.
type Store interface {
	Get(ctx context.Context, scopedKey string) (Record, bool, error)
	Insert(ctx context.Context, rec Record) error
	UpdateTerminal(ctx context.Context, scopedKey string, status Status, result json.RawMessage, errMsg string) error
	// Delete removes one record unconditionally, expired or not.
	Delete(ctx context.Context, scopedKey string) error
	// Cleanup removes every record expired as of now and reports how
	// many were removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Config tunes one Store+lock.Manager pairing's admission behavior.
type Config struct {
	LockTimeout   time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	TTL           time.Duration
}

// DefaultConfig returns conservative defaults suitable for a single
// payment-charge admission.
func DefaultConfig() Config {
	return Config{
		LockTimeout:   5 * time.Second,
		RetryInterval: 200 * time.Millisecond,
		MaxRetries:    25,
		TTL:           24 * time.Hour,
	}
}

// ScopedKey builds the `{merchantId}:{operation}:{callerKey}` key.
func ScopedKey(merchantID, operation, callerKey string) string {
	return merchantID + ":" + operation + ":" + callerKey
}

// Fingerprint computes a stable hash of requestBody's canonical JSON
// encoding. encoding/json already serializes map keys in sorted
// order, so canonicalization reduces to: marshal, hash. Callers are
// responsible for excluding volatile fields (timestamps, generated
// ids) from requestBody before calling Fingerprint; this package
// never guesses which fields are volatile.
func Fingerprint(requestBody any) (string, error) {
	data, err := json.Marshal(requestBody)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, err, "canonicalize request body")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
