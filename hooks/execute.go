package hooks

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/plm/payment-orchestrator/domain"
)

// RunPreValidation runs every enabled pre-validation hook in priority
// order, stopping at the first error.
func (r *Registry) RunPreValidation(ctx context.Context, cmd domain.CreateCommand) error {
	r.mu.RLock()
	entries := append([]entry[PreValidation]{}, r.preValidation...)
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if err := e.fn(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// RunPostValidation runs every enabled post-validation hook in
// priority order, stopping at the first error.
func (r *Registry) RunPostValidation(ctx context.Context, p domain.Payment) error {
	r.mu.RLock()
	entries := append([]entry[PostValidation]{}, r.postValidation...)
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if err := e.fn(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RunFraudChecks runs every enabled fraud-check hook in priority order
// and short-circuits on the first Allowed=false verdict.
func (r *Registry) RunFraudChecks(ctx context.Context, p domain.Payment) (FraudDecision, error) {
	r.mu.RLock()
	entries := append([]entry[FraudCheck]{}, r.fraudChecks...)
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		d, err := e.fn(ctx, p)
		if err != nil {
			return FraudDecision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
	}
	return FraudDecision{Allowed: true}, nil
}

// routingConfidenceThreshold is the minimum confidence a
// RoutingStrategy hook must report before its decision is accepted
// outright.
const routingConfidenceThreshold = 0.7

// RunRoutingStrategy runs every enabled routing-strategy hook in
// priority order and returns the first decision with Confidence >= 0.7.
// If none clears the threshold, it returns the highest-confidence
// decision seen.
func (r *Registry) RunRoutingStrategy(ctx context.Context, p domain.Payment) (RoutingDecision, bool, error) {
	r.mu.RLock()
	entries := append([]entry[RoutingStrategy]{}, r.routingStrategy...)
	r.mu.RUnlock()

	var best RoutingDecision
	haveBest := false
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		d, err := e.fn(ctx, p)
		if err != nil {
			return RoutingDecision{}, false, err
		}
		if d.Confidence >= routingConfidenceThreshold {
			return d, true, nil
		}
		if !haveBest || d.Confidence > best.Confidence {
			best = d
			haveBest = true
		}
	}
	return best, haveBest, nil
}

// RunEnrichment runs every enabled enrichment hook in priority order,
// merging each hook's returned metadata into the accumulated result
// (later hooks win on key collision).
func (r *Registry) RunEnrichment(ctx context.Context, cmd domain.CreateCommand) (map[string]string, error) {
	r.mu.RLock()
	entries := append([]entry[Enrichment]{}, r.enrichment...)
	r.mu.RUnlock()

	merged := map[string]string{}
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		out, err := e.fn(ctx, cmd)
		if err != nil {
			return nil, err
		}
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged, nil
}

// RunEventListeners fans every enabled event-listener hook out onto a
// bounded worker pool. Listener failures are reported to onErr and
// never block or fail the caller.
func (r *Registry) RunEventListeners(ctx context.Context, wp *workerpool.WorkerPool, p domain.Payment, eventType domain.EventType, onErr func(name string, err error)) {
	r.mu.RLock()
	entries := append([]entry[EventListener]{}, r.listeners...)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		e := e
		wg.Add(1)
		wp.Submit(func() {
			defer wg.Done()
			if err := e.fn(ctx, p, eventType); err != nil && onErr != nil {
				onErr(e.name, err)
			}
		})
	}
	wg.Wait()
}

// RunMetricsHooks invokes every enabled metrics hook. Metrics hooks
// have no error return; they are fire-and-forget observers.
func (r *Registry) RunMetricsHooks(ctx context.Context, p domain.Payment, step string, stepErr error) {
	r.mu.RLock()
	entries := append([]entry[MetricsHook]{}, r.metrics...)
	r.mu.RUnlock()

	for _, e := range entries {
		if e.enabled {
			e.fn(ctx, p, step, stepErr)
		}
	}
}

// RunErrorHandlers invokes every enabled error-handler hook in
// priority order.
func (r *Registry) RunErrorHandlers(ctx context.Context, p domain.Payment, err error) {
	r.mu.RLock()
	entries := append([]entry[ErrorHandler]{}, r.errorHandlers...)
	r.mu.RUnlock()

	for _, e := range entries {
		if e.enabled {
			e.fn(ctx, p, err)
		}
	}
}
