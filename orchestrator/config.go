// Package orchestrator composes the idempotency engine, routing,
// breaker, retry, gateway, event store, repository, and hook packages
// into the two public entry points CreatePayment and ProcessPayment.
// Nothing here owns business logic of its own; it is pure wiring
// over injected ports, and tests substitute in-memory ports.
package orchestrator

import (
	"time"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/idempotency"
	"github.com/plm/payment-orchestrator/retry"
	"github.com/plm/payment-orchestrator/routing"
)

// Config is the single configuration object for the whole pipeline.
// CircuitBreaker is a template: RegisterGateway clones it per gateway
// name, since each gateway gets its own independent breaker instance.
type Config struct {
	Routing        routing.Config
	Retry          retry.Policy
	CircuitBreaker breaker.Config
	Idempotency    idempotency.Config
	OptimisticLock retry.Policy

	// MaxRetries bounds how many RetryPayment attempts a FAILURE
	// payment may accumulate before Payment.CanRetry refuses another.
	MaxRetries int
}

// DefaultConfig returns conservative defaults assembled from each
// component's own DefaultConfig/DefaultPolicy.
func DefaultConfig() Config {
	return Config{
		Routing:        routing.DefaultConfig(),
		Retry:          retry.DefaultPolicy(),
		CircuitBreaker: breaker.DefaultConfig(""),
		Idempotency:    idempotency.DefaultConfig(),
		OptimisticLock: retry.Policy{
			MaxRetries:   5,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		MaxRetries: 3,
	}
}
