package orchestrator

import (
	"context"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/gateway"
	"github.com/plm/payment-orchestrator/retry"
)

// callThrough wraps op in the breaker+retry composition every gateway
// call goes through: the breaker gates admission, the retry policy
// retries the retryable outcomes it let through. Go forbids type
// parameters on methods, so this lives as a free function taking the
// collaborators a step needs explicitly.
func callThrough[T any](ctx context.Context, br breaker.Breaker, policy retry.Policy, op func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	wrapped := func(ctx context.Context, attempt int) (T, error) {
		allowed, done, err := br.Allow(ctx)
		if err != nil {
			return zero, errs.Wrap(errs.KindInternal, err, "breaker admission check")
		}
		if !allowed {
			return zero, errs.New(errs.KindCircuitOpen, "circuit breaker open")
		}
		val, err := op(ctx)
		done(err == nil)
		return val, err
	}

	result := retry.ExecuteWithRetry(ctx, policy, wrapped, gateway.IsRetryable)
	return result.Value, result.Retries, result.Err
}

// attemptAllCandidates retries step against successive gateway
// candidates whenever a candidate's breaker is OPEN. step is retried
// from scratch against the next candidate; it must not have committed
// any side effect on an open-circuit rejection, which callThrough
// guarantees since Allow rejects before op runs.
func (o *Orchestrator) attemptAllCandidates(ctx context.Context, pick func(excluded map[string]bool) (string, gateway.Gateway, breaker.Breaker, error), step func(name string, gw gateway.Gateway, br breaker.Breaker) error) error {
	excluded := make(map[string]bool)
	var lastErr error
	for {
		name, gw, br, err := pick(excluded)
		if err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = step(name, gw, br)
		if lastErr == nil {
			return nil
		}
		if !errs.Is(lastErr, errs.KindCircuitOpen) {
			return lastErr
		}
		excluded[name] = true
	}
}
