// Package eventstore implements the append-only event log and sourcing
// coordinator. Events for one aggregate form a strictly contiguous
// 1..N sequence; append is rejected if the caller's next version
// doesn't match.
package eventstore

import (
	"context"
	"sort"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
)

// Store is the append-only log contract, partitioned by aggregateId.
type Store interface {
	// Append persists events atomically; every event must belong to
	// the same aggregate and its versions must be exactly
	// lastStored+1, lastStored+2, ... with no gaps.
	Append(ctx context.Context, aggregateID string, events []domain.Event) error
	GetEvents(ctx context.Context, aggregateID string) ([]domain.Event, error)
	GetEventsAfterVersion(ctx context.Context, aggregateID string, version int64) ([]domain.Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID string) (int64, error)
	GetEventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error)
}

// ValidateContiguous checks that events, sorted by version, form the
// unbroken sequence 1,2,...,len(events) the sourcing coordinator
// requires before replaying.
func ValidateContiguous(events []domain.Event) error {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i, e := range sorted {
		want := int64(i + 1)
		if e.Version != want {
			return errs.New(errs.KindEventContinuity, "event versions are not contiguous starting at 1")
		}
	}
	return nil
}

// NextVersion validates events are the expected contiguous continuation
// of an aggregate already at lastStored, returning the new head version.
func NextVersion(lastStored int64, events []domain.Event) (int64, error) {
	expect := lastStored
	for _, e := range events {
		expect++
		if e.Version != expect {
			return 0, errs.New(errs.KindEventVersionMismatch, "event version does not match expected next version")
		}
	}
	return expect, nil
}
