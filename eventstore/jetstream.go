package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
)

const (
	// PaymentEventsStream is a LimitsPolicy stream so events are
	// retained for replay rather than consumed once.
	PaymentEventsStream  = "PAYMENT_EVENTS"
	PaymentEventsSubject = "payment.events"
)

// JetStreamStore is a Store backed by NATS JetStream: one durable
// stream holding every aggregate's events, partitioned by subject
// suffix (`payment.events.<aggregateId>`).
type JetStreamStore struct {
	js jetstream.JetStream
}

// NewJetStreamStore wraps an already-connected jetstream.JetStream.
func NewJetStreamStore(js jetstream.JetStream) *JetStreamStore {
	return &JetStreamStore{js: js}
}

// SetupStream creates or updates the durable payment-events stream.
func (s *JetStreamStore) SetupStream(ctx context.Context) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        PaymentEventsStream,
		Description: "Payment lifecycle events, one subject per aggregate",
		Subjects:    []string{PaymentEventsSubject + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "create payment events stream")
	}
	return nil
}

func subject(aggregateID string) string {
	return PaymentEventsSubject + "." + aggregateID
}

func (s *JetStreamStore) Append(ctx context.Context, aggregateID string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	lastStored, err := s.GetCurrentVersion(ctx, aggregateID)
	if err != nil {
		return err
	}
	if _, err := NextVersion(lastStored, events); err != nil {
		return err
	}

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "marshal event")
		}
		if _, err := s.js.Publish(ctx, subject(aggregateID), data); err != nil {
			return errs.Wrap(errs.KindInternal, err, fmt.Sprintf("publish event version %d", e.Version))
		}
	}
	return nil
}

func (s *JetStreamStore) GetEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	cons, err := s.js.OrderedConsumer(ctx, PaymentEventsStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject(aggregateID)},
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "create ordered consumer")
	}

	var events []domain.Event
	for {
		msg, err := cons.Next(jetstream.FetchMaxWait(2 * time.Second))
		if err != nil {
			break
		}
		var e domain.Event
		if err := json.Unmarshal(msg.Data(), &e); err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "unmarshal event")
		}
		events = append(events, e)
		_ = msg.Ack()
	}
	return events, nil
}

func (s *JetStreamStore) GetEventsAfterVersion(ctx context.Context, aggregateID string, version int64) ([]domain.Event, error) {
	all, err := s.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	var out []domain.Event
	for _, e := range all {
		if e.Version > version {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *JetStreamStore) GetCurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	events, err := s.GetEvents(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}

func (s *JetStreamStore) GetEventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error) {
	stream, err := s.js.Stream(ctx, PaymentEventsStream)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "load stream")
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "stream info")
	}

	cons, err := s.js.OrderedConsumer(ctx, PaymentEventsStream, jetstream.OrderedConsumerConfig{})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "create ordered consumer")
	}

	var out []domain.Event
	for i := uint64(0); i < info.State.Msgs; i++ {
		msg, err := cons.Next(jetstream.FetchMaxWait(2 * time.Second))
		if err != nil {
			break
		}
		var e domain.Event
		if err := json.Unmarshal(msg.Data(), &e); err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "unmarshal event")
		}
		if e.EventType == eventType {
			out = append(out, e)
		}
		_ = msg.Ack()
	}
	return out, nil
}
