// Package breaker implements a per-gateway circuit breaker: a
// CLOSED/OPEN/HALF_OPEN state machine over a sliding window of
// outcomes, with an EWMA health score and a bounded half-open probe
// gate.
package breaker

import (
	"context"
	"time"
)

// State is a gateway's circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes one gateway's breaker.
type Config struct {
	Name                 string
	FailureThreshold     int64
	FailureRateThreshold float64
	MinSampleSize        int64
	OpenTimeout          time.Duration
	SuccessThreshold     int64
	HalfOpenMaxAttempts  int64
	FailureWindow        time.Duration

	// AdaptiveThresholds scales FailureThreshold/FailureRateThreshold
	// down as HealthScore drops, so an already-unhealthy gateway opens
	// faster on the next few failures.
	AdaptiveThresholds bool

	// HealthScoreAlpha is the EWMA smoothing factor for healthScore;
	// higher weights recent outcomes more heavily.
	HealthScoreAlpha float64
}

// DefaultConfig returns conservative production thresholds.
func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		FailureThreshold:     5,
		FailureRateThreshold: 0.5,
		MinSampleSize:        10,
		OpenTimeout:          30 * time.Second,
		SuccessThreshold:     3,
		HalfOpenMaxAttempts:  2,
		FailureWindow:        60 * time.Second,
		AdaptiveThresholds:   true,
		HealthScoreAlpha:     0.3,
	}
}

// Health is a point-in-time snapshot of one gateway's breaker.
type Health struct {
	State                State
	HealthScore          float64
	SuccessRate          float64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
	OpenCount            int64
	LastOpenedAt         time.Time
}

// Breaker is the uniform contract both the in-memory and Redis-backed
// implementations satisfy.
type Breaker interface {
	// Allow reports whether a request may proceed, and if so, a done
	// func the caller must invoke with the outcome.
	Allow(ctx context.Context) (allowed bool, done func(success bool), err error)
	GetHealth(ctx context.Context) (Health, error)
	Reset(ctx context.Context) error
}

type rollingOutcome struct {
	at      time.Time
	success bool
}

func effectiveThresholds(cfg Config, health float64) (failureThreshold int64, failureRateThreshold float64) {
	if !cfg.AdaptiveThresholds {
		return cfg.FailureThreshold, cfg.FailureRateThreshold
	}
	// health in [0,1]; scale down to as little as 40% of configured
	// thresholds as health approaches 0.
	scale := 0.4 + 0.6*health
	ft := float64(cfg.FailureThreshold) * scale
	if ft < 1 {
		ft = 1
	}
	return int64(ft), cfg.FailureRateThreshold * scale
}
