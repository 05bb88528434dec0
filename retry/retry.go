// Package retry implements an exponential-backoff-with-jitter policy.
// The jitter source is an injected port rather than package-level
// math/rand so tests are deterministic.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Source is the injectable randomness port. The package-level
// DefaultSource below implements it with a mutex-guarded *rand.Rand.
type Source interface {
	Float64() float64
}

type lockedRand struct {
	mu *sync.Mutex
	r  *rand.Rand
}

func (l lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// NewSeededSource returns a deterministic Source for tests.
func NewSeededSource(seed int64) Source {
	return lockedRand{mu: &sync.Mutex{}, r: rand.New(rand.NewSource(seed))}
}

// DefaultSource is a process-global, non-deterministic Source used
// when Policy.Rand is left nil.
var DefaultSource Source = lockedRand{mu: &sync.Mutex{}, r: rand.New(rand.NewSource(time.Now().UnixNano()))}

// Policy configures the backoff curve. Delay before attempt k
// (0-indexed, post-first) is min(InitialDelay * Multiplier^k, MaxDelay)
// plus symmetric jitter of ± delay * JitterFactor * U(0,1).
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	Rand         Source
}

// DefaultPolicy returns conservative production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (p Policy) source() Source {
	if p.Rand != nil {
		return p.Rand
	}
	return DefaultSource
}

// DelayForAttempt computes the backoff delay before the k-th retry
// (k is 0-indexed: 0 is the delay before the first retry, i.e. the
// second attempt overall).
func (p Policy) DelayForAttempt(k int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(k))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	jitter := base * p.JitterFactor * (2*p.source().Float64() - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// IsRetryable classifies an error as retryable. Callers supply the
// domain-specific classifier; ExecuteWithRetry short-circuits the
// moment it returns false.
type IsRetryable func(error) bool

// Op is the operation to retry. Attempt is 0-indexed.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

// Result carries the outcome alongside how many retries were spent,
// so callers can surface the retry count in telemetry.
type Result[T any] struct {
	Value   T
	Retries int
	Err     error
}

// ExecuteWithRetry runs op at most MaxRetries+1 times, sleeping
// DelayForAttempt between attempts, short-circuiting the instant
// isRetryable returns false for the most recent error.
func ExecuteWithRetry[T any](ctx context.Context, p Policy, op Op[T], isRetryable IsRetryable) Result[T] {
	var lastErr error
	var zero T

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.DelayForAttempt(attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result[T]{Value: zero, Retries: attempt - 1, Err: ctx.Err()}
			case <-timer.C:
			}
		}

		val, err := op(ctx, attempt)
		if err == nil {
			return Result[T]{Value: val, Retries: attempt}
		}

		lastErr = err
		if !isRetryable(err) {
			return Result[T]{Value: zero, Retries: attempt, Err: lastErr}
		}
	}

	return Result[T]{Value: zero, Retries: p.MaxRetries, Err: lastErr}
}
