package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/plm/payment-orchestrator/money"
)

// EventType enumerates the lifecycle events a Payment can emit.
type EventType string

const (
	EventInitiated      EventType = "PAYMENT_INITIATED"
	EventAuthenticated  EventType = "PAYMENT_AUTHENTICATED"
	EventProcessing     EventType = "PAYMENT_PROCESSING"
	EventSucceeded      EventType = "PAYMENT_SUCCEEDED"
	EventFailed         EventType = "PAYMENT_FAILED"
	EventRetryAttempted EventType = "RETRY_ATTEMPTED"
)

// Event is one entry in an aggregate's append-only stream. Versions
// for a given AggregateID are strictly contiguous starting at 1.
type Event struct {
	EventID     string          `json:"eventId"`
	EventType   EventType       `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEvent constructs an Event with a fresh ID and the given version,
// marshaling payload to its stable JSON wire shape.
func NewEvent(eventType EventType, aggregateID string, version int64, now time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Version:     version,
		Timestamp:   now,
		Payload:     data,
	}, nil
}

// InitiatedPayload is the payload for EventInitiated.
type InitiatedPayload struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	Amount         money.Money       `json:"amount"`
	PaymentMethod  PaymentMethod     `json:"paymentMethod"`
	Customer       Customer          `json:"customer"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AuthenticatedPayload is the payload for EventAuthenticated.
type AuthenticatedPayload struct {
	GatewayType string `json:"gatewayType"`
}

// ProcessingPayload is the payload for EventProcessing.
type ProcessingPayload struct {
	GatewayType          string `json:"gatewayType"`
	GatewayTransactionID string `json:"gatewayTransactionId"`
}

// SucceededPayload is the payload for EventSucceeded.
type SucceededPayload struct {
	GatewayTransactionID string `json:"gatewayTransactionId"`
}

// FailedPayload is the payload for EventFailed.
type FailedPayload struct {
	Reason   string `json:"reason"`
	CanRetry bool   `json:"canRetry"`
}

// RetryAttemptedPayload is the payload for EventRetryAttempted.
type RetryAttemptedPayload struct {
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}
