// Package statemachine implements the authoritative Payment transition
// table. It never mutates a Payment; every method returns the new value
// domain.Payment's own mutators would produce, after checking the
// transition is legal.
package statemachine

import (
	"time"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
)

// transitions maps a from-state to the set of to-states reachable in
// one trigger. Anything not listed here fails with InvalidTransition.
var transitions = map[domain.State]map[domain.State]bool{
	domain.StateInitiated: {
		domain.StateAuthenticated: true,
		domain.StateFailure:       true,
	},
	domain.StateAuthenticated: {
		domain.StateProcessing: true,
		domain.StateFailure:    true,
	},
	domain.StateProcessing: {
		domain.StateSuccess: true,
		domain.StateFailure: true,
	},
	domain.StateSuccess: {},
	domain.StateFailure: {},
}

func canTransition(from, to domain.State) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

func invalidTransition(from, to domain.State) error {
	return errs.New(errs.KindInvalidTransition,
		string(from)+" -> "+string(to)+" is not a permitted transition")
}

// Authenticate drives INITIATED -> AUTHENTICATED, recording gatewayType.
func Authenticate(p domain.Payment, gatewayType string, now time.Time) (domain.Payment, error) {
	if !canTransition(p.State, domain.StateAuthenticated) {
		return domain.Payment{}, invalidTransition(p.State, domain.StateAuthenticated)
	}
	return p.WithGateway(gatewayType, now), nil
}

// StartProcessing drives AUTHENTICATED -> PROCESSING, recording the
// gateway transaction id.
func StartProcessing(p domain.Payment, gatewayTransactionID string, now time.Time) (domain.Payment, error) {
	if !canTransition(p.State, domain.StateProcessing) {
		return domain.Payment{}, invalidTransition(p.State, domain.StateProcessing)
	}
	return p.WithGatewayTransaction(gatewayTransactionID, now), nil
}

// MarkSuccess drives PROCESSING -> SUCCESS.
func MarkSuccess(p domain.Payment, now time.Time) (domain.Payment, error) {
	if !canTransition(p.State, domain.StateSuccess) {
		return domain.Payment{}, invalidTransition(p.State, domain.StateSuccess)
	}
	return p.WithSuccess(now), nil
}

// MarkFailure drives {INITIATED, AUTHENTICATED, PROCESSING} -> FAILURE.
func MarkFailure(p domain.Payment, reason string, now time.Time) (domain.Payment, error) {
	if !canTransition(p.State, domain.StateFailure) {
		return domain.Payment{}, invalidTransition(p.State, domain.StateFailure)
	}
	return p.WithFailure(reason, now), nil
}

// CanTransition exposes the table for callers that need to ask
// without attempting the transition.
func CanTransition(from, to domain.State) bool {
	return canTransition(from, to)
}
