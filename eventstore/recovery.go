package eventstore

import (
	"context"
	"time"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/gateway"
)

// StuckAggregate names one aggregate whose latest event leaves it in a
// non-terminal state, derived by folding the event log rather than
// querying a status column.
type StuckAggregate struct {
	AggregateID string
	Payment     domain.Payment
}

// FindIncomplete enumerates every aggregate in aggregateIDs whose
// current state is neither SUCCESS nor FAILURE.
func FindIncomplete(ctx context.Context, coord *Coordinator, aggregateIDs []string) ([]StuckAggregate, error) {
	var stuck []StuckAggregate
	for _, id := range aggregateIDs {
		p, err := coord.Reconstruct(ctx, id)
		if err != nil {
			continue
		}
		if !p.State.IsTerminal() {
			stuck = append(stuck, StuckAggregate{AggregateID: id, Payment: p})
		}
	}
	return stuck, nil
}

// Reconciler drives stuck aggregates to a definite terminal state by
// asking the gateway what actually happened via GetStatus.
type Reconciler struct {
	Store    Store
	Gateways func(gatewayType string) (gateway.Gateway, bool)

	// MaxRetries feeds the canRetry flag on a reconciled FAILED event.
	MaxRetries int
}

// NewReconciler builds a Reconciler over a Store and a gateway lookup.
func NewReconciler(store Store, lookupGateway func(string) (gateway.Gateway, bool)) *Reconciler {
	return &Reconciler{Store: store, Gateways: lookupGateway, MaxRetries: 3}
}

// Reconcile resolves one stuck aggregate's outcome and appends the
// matching terminal event. It is a no-op (returns nil) when the
// aggregate has not yet reached PROCESSING, since there is nothing a
// gateway can report on yet; those aggregates are left for the
// orchestrator's normal retry path instead.
func (r *Reconciler) Reconcile(ctx context.Context, stuck StuckAggregate, now time.Time) error {
	p := stuck.Payment
	if p.State != domain.StateProcessing || p.GatewayType == "" || p.GatewayTransactionID == "" {
		return nil
	}

	gw, ok := r.Gateways(p.GatewayType)
	if !ok {
		return nil
	}

	status, err := gw.GetStatus(ctx, p.GatewayTransactionID)
	if err != nil {
		return nil
	}

	version := p.Version + 1
	switch status.Status {
	case "succeeded":
		event, err := domain.NewEvent(domain.EventSucceeded, p.ID, version, now, domain.SucceededPayload{GatewayTransactionID: p.GatewayTransactionID})
		if err != nil {
			return err
		}
		return r.Store.Append(ctx, p.ID, []domain.Event{event})
	case "failed":
		event, err := domain.NewEvent(domain.EventFailed, p.ID, version, now, domain.FailedPayload{Reason: status.Reason, CanRetry: p.CanRetry(r.MaxRetries)})
		if err != nil {
			return err
		}
		return r.Store.Append(ctx, p.ID, []domain.Event{event})
	default:
		// Still in flight at the gateway; leave it for the next sweep.
		return nil
	}
}
