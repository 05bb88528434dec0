package eventstore

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
)

// Fold rebuilds a Payment from its version-ordered events: a left fold
// over the immutable event log, never a mutation of shared state.
func Fold(events []domain.Event) (domain.Payment, error) {
	if len(events) == 0 {
		return domain.Payment{}, errs.New(errs.KindNotFound, "no events for aggregate")
	}
	if err := ValidateContiguous(events); err != nil {
		return domain.Payment{}, err
	}

	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	var p domain.Payment
	for _, e := range sorted {
		applied, err := apply(p, e)
		if err != nil {
			return domain.Payment{}, err
		}
		p = applied
	}
	return p, nil
}

func apply(p domain.Payment, e domain.Event) (domain.Payment, error) {
	switch e.EventType {
	case domain.EventInitiated:
		var payload domain.InitiatedPayload
		if err := decode(e, &payload); err != nil {
			return p, err
		}
		return domain.Payment{
			ID:             e.AggregateID,
			IdempotencyKey: payload.IdempotencyKey,
			State:          domain.StateInitiated,
			Amount:         payload.Amount,
			PaymentMethod:  payload.PaymentMethod,
			Customer:       payload.Customer,
			Metadata:       payload.Metadata,
			CreatedAt:      e.Timestamp,
			UpdatedAt:      e.Timestamp,
			Version:        e.Version,
		}, nil
	case domain.EventAuthenticated:
		var payload domain.AuthenticatedPayload
		if err := decode(e, &payload); err != nil {
			return p, err
		}
		p.State = domain.StateAuthenticated
		p.GatewayType = payload.GatewayType
		p.UpdatedAt = e.Timestamp
		p.Version = e.Version
		return p, nil
	case domain.EventProcessing:
		var payload domain.ProcessingPayload
		if err := decode(e, &payload); err != nil {
			return p, err
		}
		p.State = domain.StateProcessing
		p.GatewayType = payload.GatewayType
		p.GatewayTransactionID = payload.GatewayTransactionID
		p.UpdatedAt = e.Timestamp
		p.Version = e.Version
		return p, nil
	case domain.EventSucceeded:
		p.State = domain.StateSuccess
		p.UpdatedAt = e.Timestamp
		p.Version = e.Version
		return p, nil
	case domain.EventFailed:
		var payload domain.FailedPayload
		if err := decode(e, &payload); err != nil {
			return p, err
		}
		p.State = domain.StateFailure
		p.FailureReason = payload.Reason
		p.UpdatedAt = e.Timestamp
		p.Version = e.Version
		return p, nil
	case domain.EventRetryAttempted:
		var payload domain.RetryAttemptedPayload
		if err := decode(e, &payload); err != nil {
			return p, err
		}
		p.RetryCount = payload.Attempt
		p.UpdatedAt = e.Timestamp
		p.Version = e.Version
		return p, nil
	default:
		return p, errs.New(errs.KindInternal, "unknown event type during replay")
	}
}

func decode(e domain.Event, out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return errs.Wrap(errs.KindInternal, err, "decode event payload")
	}
	return nil
}

// Coordinator reconstructs aggregate state on demand from a Store.
type Coordinator struct {
	Store Store
}

// NewCoordinator builds a Coordinator over store.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{Store: store}
}

// Reconstruct replays aggregateID's full event history into a Payment.
func (c *Coordinator) Reconstruct(ctx context.Context, aggregateID string) (domain.Payment, error) {
	events, err := c.Store.GetEvents(ctx, aggregateID)
	if err != nil {
		return domain.Payment{}, err
	}
	return Fold(events)
}
