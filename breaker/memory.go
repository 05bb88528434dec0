package breaker

import (
	"context"
	"sync"
	"time"
)

// InMemoryBreaker is a process-local Breaker.
type InMemoryBreaker struct {
	mu  sync.Mutex
	cfg Config

	state                State
	outcomes             []rollingOutcome
	consecutiveSuccesses int64
	consecutiveFailures  int64
	openCount            int64
	lastOpenedAt         time.Time
	healthScore          float64
	halfOpenInFlight     int64
}

// NewInMemoryBreaker constructs a breaker starting CLOSED with a
// neutral health score.
func NewInMemoryBreaker(cfg Config) *InMemoryBreaker {
	return &InMemoryBreaker{cfg: cfg, state: StateClosed, healthScore: 1.0}
}

func (b *InMemoryBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	i := 0
	for ; i < len(b.outcomes); i++ {
		if b.outcomes[i].at.After(cutoff) {
			break
		}
	}
	b.outcomes = b.outcomes[i:]
}

func (b *InMemoryBreaker) failureRateLocked() (rate float64, samples int64) {
	samples = int64(len(b.outcomes))
	if samples == 0 {
		return 0, 0
	}
	var failures int64
	for _, o := range b.outcomes {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(samples), samples
}

// Allow implements Breaker.
func (b *InMemoryBreaker) Allow(ctx context.Context) (bool, func(bool), error) {
	b.mu.Lock()
	now := time.Now()

	switch b.state {
	case StateOpen:
		if now.Sub(b.lastOpenedAt) >= b.cfg.OpenTimeout {
			b.state = StateHalfOpen
			b.consecutiveSuccesses = 0
			// This request is the first half-open probe.
			b.halfOpenInFlight = 1
		} else {
			b.mu.Unlock()
			return false, nil, nil
		}
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxAttempts {
			b.mu.Unlock()
			return false, nil, nil
		}
		b.halfOpenInFlight++
	}

	stateAtAdmission := b.state
	b.mu.Unlock()

	done := func(success bool) {
		b.record(stateAtAdmission, success)
	}
	return true, done, nil
}

func (b *InMemoryBreaker) record(stateAtAdmission State, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.outcomes = append(b.outcomes, rollingOutcome{at: now, success: success})
	b.pruneLocked(now)

	if success {
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
	} else {
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
	}
	b.healthScore = b.cfg.HealthScoreAlpha*boolToFloat(success) + (1-b.cfg.HealthScoreAlpha)*b.healthScore

	switch stateAtAdmission {
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if !success {
			b.openLocked(now)
			return
		}
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.closeLocked()
		}
	case StateClosed:
		if success {
			return
		}
		failureThreshold, failureRateThreshold := effectiveThresholds(b.cfg, b.healthScore)
		rate, samples := b.failureRateLocked()
		if b.consecutiveFailures >= failureThreshold {
			b.openLocked(now)
			return
		}
		if samples >= b.cfg.MinSampleSize && rate >= failureRateThreshold {
			b.openLocked(now)
		}
	}
}

func (b *InMemoryBreaker) openLocked(now time.Time) {
	b.state = StateOpen
	b.lastOpenedAt = now
	b.openCount++
	b.consecutiveSuccesses = 0
}

func (b *InMemoryBreaker) closeLocked() {
	b.state = StateClosed
	b.outcomes = nil
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
}

// GetHealth implements Breaker.
func (b *InMemoryBreaker) GetHealth(ctx context.Context) (Health, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rate, _ := b.failureRateLocked()
	return Health{
		State:                b.state,
		HealthScore:          b.healthScore,
		SuccessRate:          1 - rate,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		ConsecutiveFailures:  b.consecutiveFailures,
		OpenCount:            b.openCount,
		LastOpenedAt:         b.lastOpenedAt,
	}, nil
}

// Reset implements Breaker.
func (b *InMemoryBreaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.outcomes = nil
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.healthScore = 1.0
	b.halfOpenInFlight = 0
	return nil
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
