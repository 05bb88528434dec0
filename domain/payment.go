// Package domain defines the immutable Payment aggregate and its
// supporting value types. Every "mutator" returns a new Payment value;
// nothing here mutates in place.
package domain

import (
	"time"

	"github.com/plm/payment-orchestrator/money"
)

// State is a Payment lifecycle state. The authoritative transition
// table lives in package statemachine; this type is just the value.
type State string

const (
	StateInitiated     State = "INITIATED"
	StateAuthenticated State = "AUTHENTICATED"
	StateProcessing    State = "PROCESSING"
	StateSuccess       State = "SUCCESS"
	StateFailure       State = "FAILURE"
)

// IsTerminal reports whether s is SUCCESS or FAILURE.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// MethodType tags which variant of PaymentMethod detail is populated.
type MethodType string

const (
	MethodCard       MethodType = "CARD"
	MethodUPI        MethodType = "UPI"
	MethodNetBanking MethodType = "NET_BANKING"
	MethodWallet     MethodType = "WALLET"
	MethodPayLater   MethodType = "PAY_LATER"
)

// CardDetail is the per-variant detail record for MethodCard.
type CardDetail struct {
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
}

// UPIDetail is the per-variant detail record for MethodUPI.
type UPIDetail struct {
	VPA string `json:"vpa"`
}

// NetBankingDetail is the per-variant detail record for MethodNetBanking.
type NetBankingDetail struct {
	BankCode string `json:"bankCode"`
}

// WalletDetail is the per-variant detail record for MethodWallet.
type WalletDetail struct {
	Provider string `json:"provider"`
}

// PayLaterDetail is the per-variant detail record for MethodPayLater.
type PayLaterDetail struct {
	Provider string `json:"provider"`
}

// PaymentMethod is a tagged variant over the five supported methods.
// Exactly one of the per-variant fields is populated, matching Type.
type PaymentMethod struct {
	Type       MethodType        `json:"type"`
	Card       *CardDetail       `json:"card,omitempty"`
	UPI        *UPIDetail        `json:"upi,omitempty"`
	NetBanking *NetBankingDetail `json:"netBanking,omitempty"`
	Wallet     *WalletDetail     `json:"wallet,omitempty"`
	PayLater   *PayLaterDetail   `json:"payLater,omitempty"`
}

// Customer identifies the payer.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Payment is the immutable aggregate. Every mutator method returns a
// new value with UpdatedAt advanced; callers never mutate a Payment
// in place.
type Payment struct {
	ID                   string            `json:"id"`
	IdempotencyKey       string            `json:"idempotencyKey"`
	State                State             `json:"state"`
	Amount               money.Money       `json:"amount"`
	PaymentMethod        PaymentMethod     `json:"paymentMethod"`
	Customer             Customer          `json:"customer"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	GatewayType          string            `json:"gatewayType,omitempty"`
	GatewayTransactionID string            `json:"gatewayTransactionId,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
	FailureReason        string            `json:"failureReason,omitempty"`
	RetryCount           int               `json:"retryCount"`
	Version              int64             `json:"version"`
}

// clone returns a shallow copy with a fresh Metadata map, the baseline
// every mutator builds on so the receiver is never touched.
func (p Payment) clone() Payment {
	cp := p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// WithState returns a new Payment with State advanced and UpdatedAt
// set to now. Callers that need to validate the transition should go
// through package statemachine rather than calling this directly.
func (p Payment) WithState(next State, now time.Time) Payment {
	cp := p.clone()
	cp.State = next
	cp.UpdatedAt = now
	cp.Version++
	return cp
}

// WithGateway returns a new Payment with gatewayType recorded, used by
// the AUTHENTICATED transition.
func (p Payment) WithGateway(gatewayType string, now time.Time) Payment {
	cp := p.WithState(StateAuthenticated, now)
	cp.GatewayType = gatewayType
	return cp
}

// WithGatewayTransaction returns a new Payment with gatewayTransactionId
// recorded, used by the PROCESSING transition.
func (p Payment) WithGatewayTransaction(gatewayTransactionID string, now time.Time) Payment {
	cp := p.WithState(StateProcessing, now)
	cp.GatewayTransactionID = gatewayTransactionID
	return cp
}

// WithSuccess returns a new terminal SUCCESS Payment.
func (p Payment) WithSuccess(now time.Time) Payment {
	return p.WithState(StateSuccess, now)
}

// WithFailure returns a new terminal FAILURE Payment carrying reason.
func (p Payment) WithFailure(reason string, now time.Time) Payment {
	cp := p.WithState(StateFailure, now)
	cp.FailureReason = reason
	return cp
}

// WithIncrementedRetry returns a new Payment with RetryCount+1, used
// when the orchestrator records an attempt without a state transition
// (e.g. a retryable gateway error absorbed by the retry policy).
func (p Payment) WithIncrementedRetry(now time.Time) Payment {
	cp := p.clone()
	cp.RetryCount++
	cp.UpdatedAt = now
	cp.Version++
	return cp
}

// CanRetry reports whether RetryCount has not yet exhausted maxRetries.
func (p Payment) CanRetry(maxRetries int) bool {
	return p.RetryCount < maxRetries
}

// Validate enforces the Payment invariants that are not already
// enforced by construction (Money's own invariants cover the amount
// being non-negative and finite).
func (p Payment) Validate() error {
	return validate(p)
}
