package orchestrator

import (
	"context"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/eventstore"
	"github.com/plm/payment-orchestrator/gateway"
	"github.com/plm/payment-orchestrator/statemachine"
)

// RecoveryResult reports what RecoverIncomplete did with one stuck
// aggregate, so a boot-time caller can log a summary.
type RecoveryResult struct {
	PaymentID  string
	Before     domain.State
	After      domain.State
	Reconciled bool
}

// RecoverIncomplete is the boot-time crash recovery pass: it
// enumerates every aggregate in the repository whose state is
// non-terminal, reconciles each PROCESSING one against its gateway's
// GetStatus, appends the resulting terminal event, and persists the
// new state so ProcessPayment/GetPayment see it immediately
// afterward; eventstore.Reconciler.Reconcile alone only advances the
// event log.
//
// Aggregates that crashed before reaching PROCESSING (no gateway
// transaction id to ask about yet) are left untouched; they are still
// reachable through ProcessPayment's normal step loop.
func (o *Orchestrator) RecoverIncomplete(ctx context.Context) ([]RecoveryResult, error) {
	all, err := o.Repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	reconciler := eventstore.NewReconciler(o.Events, func(name string) (gateway.Gateway, bool) {
		gw, _, ok := o.gatewayFor(name)
		return gw, ok
	})

	var results []RecoveryResult
	for _, p := range all {
		if p.State.IsTerminal() {
			continue
		}
		results = append(results, o.recoverOne(ctx, reconciler, p))
	}
	return results, nil
}

func (o *Orchestrator) recoverOne(ctx context.Context, reconciler *eventstore.Reconciler, p domain.Payment) RecoveryResult {
	now := o.now()
	result := RecoveryResult{PaymentID: p.ID, Before: p.State, After: p.State}

	stuck := eventstore.StuckAggregate{AggregateID: p.ID, Payment: p}
	if err := reconciler.Reconcile(ctx, stuck, now); err != nil {
		return result
	}

	coord := eventstore.NewCoordinator(o.Events)
	reconstructed, err := coord.Reconstruct(ctx, p.ID)
	if err != nil || !reconstructed.State.IsTerminal() {
		return result
	}

	updated, err := o.Versioned.UpdateStatus(ctx, p.ID, func(cur domain.Payment) (domain.Payment, error) {
		if reconstructed.State == domain.StateSuccess {
			return statemachine.MarkSuccess(cur, now)
		}
		return statemachine.MarkFailure(cur, reconstructed.FailureReason, now)
	})
	if err != nil {
		return result
	}

	result.After = updated.State
	result.Reconciled = true
	o.runListeners(ctx, updated, eventForState(updated.State))
	if updated.State == domain.StateSuccess {
		o.bumpMetric(func(m *Metrics) { m.TotalSucceeded++ })
	} else {
		o.bumpMetric(func(m *Metrics) { m.TotalFailed++ })
	}
	return result
}

func eventForState(s domain.State) domain.EventType {
	if s == domain.StateSuccess {
		return domain.EventSucceeded
	}
	return domain.EventFailed
}
