package domain

import "github.com/plm/payment-orchestrator/errs"

// validate enforces the structural invariants: gatewayType is set once
// state >= AUTHENTICATED, gatewayTransactionId once state >= PROCESSING,
// failureReason iff state == FAILURE.
func validate(p Payment) error {
	if (p.State == StateAuthenticated || p.State == StateProcessing || p.State == StateSuccess) && p.GatewayType == "" {
		return errs.New(errs.KindValidation, "gatewayType must be set once state >= AUTHENTICATED")
	}

	if (p.State == StateProcessing || p.State == StateSuccess) && p.GatewayTransactionID == "" {
		return errs.New(errs.KindValidation, "gatewayTransactionId must be set once state >= PROCESSING")
	}

	if p.State == StateFailure && p.FailureReason == "" {
		return errs.New(errs.KindValidation, "failureReason must be set when state == FAILURE")
	}
	if p.State != StateFailure && p.FailureReason != "" {
		return errs.New(errs.KindValidation, "failureReason must be empty unless state == FAILURE")
	}

	if p.RetryCount < 0 {
		return errs.New(errs.KindValidation, "retryCount must be non-negative")
	}

	return nil
}
