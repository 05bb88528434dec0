package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/gateway"
	"github.com/plm/payment-orchestrator/idempotency"
	"github.com/plm/payment-orchestrator/routing"
	"github.com/plm/payment-orchestrator/statemachine"
)

// invokeGateway measures call latency for routing telemetry and runs
// fn through callThrough, recording the outcome against gatewayName's
// stats bucket regardless of success.
func invokeGateway[T any](ctx context.Context, o *Orchestrator, gatewayName string, br breaker.Breaker, fn func(ctx context.Context) (T, error)) (T, int, error) {
	start := o.now()
	val, retries, err := callThrough(ctx, br, o.cfg.Retry, fn)
	o.recordOutcome(gatewayName, o.now().Sub(start), err == nil)
	return val, retries, err
}

func (o *Orchestrator) recordOutcome(name string, latency time.Duration, success bool) {
	o.mu.RLock()
	stats, ok := o.stats[name]
	o.mu.RUnlock()
	if ok {
		stats.record(latency, success)
	}
}

// selectGateway honors an explicit routing-strategy hook decision
// first, falling back to weighted scoring over every registered
// gateway not in excluded.
func (o *Orchestrator) selectGateway(ctx context.Context, p domain.Payment, excluded map[string]bool) (string, gateway.Gateway, breaker.Breaker, error) {
	decision, found, err := o.Hooks.RunRoutingStrategy(ctx, p)
	if err != nil {
		return "", nil, nil, err
	}
	if found && !excluded[decision.Gateway] {
		if gw, br, ok := o.gatewayFor(decision.Gateway); ok {
			return decision.Gateway, gw, br, nil
		}
	}

	candidates, metrics, err := o.candidates(ctx, excluded)
	if err != nil {
		return "", nil, nil, err
	}
	routed, err := routing.SelectGateway(candidates, metrics, o.cfg.Routing)
	if err != nil {
		return "", nil, nil, errs.Wrap(errs.KindInternal, err, "select gateway")
	}
	gw, br, ok := o.gatewayFor(routed.Gateway)
	if !ok {
		return "", nil, nil, errs.New(errs.KindInternal, "selected gateway "+routed.Gateway+" is not registered")
	}
	return routed.Gateway, gw, br, nil
}

// applyRetries persists RetryCount+1 (without changing State) and
// appends the matching RETRY_ATTEMPTED event, if the retry policy
// actually spent any retries on the step that just ran; the count
// rises by one per such step, however many retries it spent. A no-op
// returning p unchanged when retries is 0.
func (o *Orchestrator) applyRetries(ctx context.Context, p domain.Payment, retries int) (domain.Payment, error) {
	if retries <= 0 {
		return p, nil
	}
	now := o.now()
	updated, err := o.Versioned.UpdateStatus(ctx, p.ID, func(cur domain.Payment) (domain.Payment, error) {
		return cur.WithIncrementedRetry(now), nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	event, err := domain.NewEvent(domain.EventRetryAttempted, updated.ID, updated.Version, now, domain.RetryAttemptedPayload{
		Attempt: updated.RetryCount,
		Reason:  "retried after a transient gateway failure",
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.Events.Append(ctx, updated.ID, []domain.Event{event}); err != nil {
		return domain.Payment{}, err
	}
	o.Hooks.RunMetricsHooks(ctx, updated, "retry", nil)
	return updated, nil
}

// transitionAndEmit applies transition through the repository's CAS,
// appends the matching event, and runs listener/metrics hooks.
func (o *Orchestrator) transitionAndEmit(ctx context.Context, p domain.Payment, transition func(cur domain.Payment, now time.Time) (domain.Payment, error), eventType domain.EventType, payload func(next domain.Payment) any) (domain.Payment, error) {
	now := o.now()
	updated, err := o.Versioned.UpdateStatus(ctx, p.ID, func(cur domain.Payment) (domain.Payment, error) {
		return transition(cur, now)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	event, err := domain.NewEvent(eventType, updated.ID, updated.Version, now, payload(updated))
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.Events.Append(ctx, updated.ID, []domain.Event{event}); err != nil {
		return domain.Payment{}, err
	}
	if eventType == domain.EventSucceeded {
		o.bumpMetric(func(m *Metrics) { m.TotalSucceeded++ })
	}
	o.runListeners(ctx, updated, eventType)
	o.Hooks.RunMetricsHooks(ctx, updated, string(eventType), nil)
	return updated, nil
}

// failPayment drives p to FAILURE, persists, appends PAYMENT_FAILED
// carrying canRetry = p.CanRetry(maxRetries) so upstream retry
// drivers can decide, and runs error handlers. Once the failure is
// persisted and appended the returned error is cause, so callers can
// `return o.failPayment(...)` directly from a step; a persistence or
// append error is returned in its place.
func (o *Orchestrator) failPayment(ctx context.Context, p domain.Payment, cause error) (domain.Payment, error) {
	now := o.now()
	reason := cause.Error()
	updated, err := o.Versioned.UpdateStatus(ctx, p.ID, func(cur domain.Payment) (domain.Payment, error) {
		return statemachine.MarkFailure(cur, reason, now)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	canRetry := updated.CanRetry(o.cfg.MaxRetries)
	event, err := domain.NewEvent(domain.EventFailed, updated.ID, updated.Version, now, domain.FailedPayload{Reason: reason, CanRetry: canRetry})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.Events.Append(ctx, updated.ID, []domain.Event{event}); err != nil {
		return domain.Payment{}, err
	}
	o.bumpMetric(func(m *Metrics) { m.TotalFailed++ })
	o.runListeners(ctx, updated, domain.EventFailed)
	o.Hooks.RunMetricsHooks(ctx, updated, "fail", cause)
	o.Hooks.RunErrorHandlers(ctx, updated, cause)
	return updated, cause
}

// ProcessPayment loads the aggregate and drives authenticate ->
// initiate -> process, short-circuiting between steps the instant the
// aggregate reaches a terminal state.
func (o *Orchestrator) ProcessPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	p, err := o.Repo.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}

	for !p.State.IsTerminal() {
		next, stepErr := o.step(ctx, p)
		p = next
		if stepErr != nil {
			return p, stepErr
		}
	}
	return p, nil
}

func (o *Orchestrator) step(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	switch p.State {
	case domain.StateInitiated:
		return o.authenticateStep(ctx, p)
	case domain.StateAuthenticated:
		return o.initiateStep(ctx, p)
	case domain.StateProcessing:
		return o.processStep(ctx, p)
	default:
		return domain.Payment{}, errs.New(errs.KindInvalidTransition, "payment has no further step from state "+string(p.State))
	}
}

// authenticateStep selects a gateway, falling back across candidates
// whenever one's breaker is OPEN, and drives INITIATED ->
// AUTHENTICATED.
func (o *Orchestrator) authenticateStep(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	var chosenName string
	var retries int

	pickErr := o.attemptAllCandidates(ctx,
		func(excluded map[string]bool) (string, gateway.Gateway, breaker.Breaker, error) {
			return o.selectGateway(ctx, p, excluded)
		},
		func(name string, gw gateway.Gateway, br breaker.Breaker) error {
			_, r, err := invokeGateway(ctx, o, name, br, func(ctx context.Context) (gateway.AuthenticateResponse, error) {
				return gw.Authenticate(ctx, gateway.AuthenticateRequest{PaymentID: p.ID, MethodType: string(p.PaymentMethod.Type)})
			})
			retries = r
			if err != nil {
				return err
			}
			chosenName = name
			return nil
		},
	)

	current, applyErr := o.applyRetries(ctx, p, retries)
	if applyErr != nil {
		return domain.Payment{}, applyErr
	}
	if pickErr != nil {
		return o.failPayment(ctx, current, pickErr)
	}

	return o.transitionAndEmit(ctx, current, func(cur domain.Payment, now time.Time) (domain.Payment, error) {
		return statemachine.Authenticate(cur, chosenName, now)
	}, domain.EventAuthenticated, func(next domain.Payment) any {
		return domain.AuthenticatedPayload{GatewayType: next.GatewayType}
	})
}

// initiateStep drives AUTHENTICATED -> PROCESSING against the gateway
// already fixed by authenticateStep.
func (o *Orchestrator) initiateStep(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	gw, br, ok := o.gatewayFor(p.GatewayType)
	if !ok {
		return o.failPayment(ctx, p, errs.New(errs.KindInternal, "gateway "+p.GatewayType+" is not registered"))
	}

	resp, retries, err := invokeGateway(ctx, o, p.GatewayType, br, func(ctx context.Context) (gateway.InitiateResponse, error) {
		return gw.Initiate(ctx, gateway.InitiateRequest{
			PaymentID:      p.ID,
			AmountMinor:    p.Amount.Minor(),
			Currency:       string(p.Amount.Currency()),
			MethodType:     string(p.PaymentMethod.Type),
			IdempotencyKey: p.IdempotencyKey,
		})
	})

	current, applyErr := o.applyRetries(ctx, p, retries)
	if applyErr != nil {
		return domain.Payment{}, applyErr
	}
	if err != nil {
		return o.failPayment(ctx, current, err)
	}

	return o.transitionAndEmit(ctx, current, func(cur domain.Payment, now time.Time) (domain.Payment, error) {
		return statemachine.StartProcessing(cur, resp.GatewayTransactionID, now)
	}, domain.EventProcessing, func(next domain.Payment) any {
		return domain.ProcessingPayload{GatewayType: next.GatewayType, GatewayTransactionID: next.GatewayTransactionID}
	})
}

// processStep drives PROCESSING to its terminal state: SUCCESS on a
// successful charge, FAILURE (with the gateway's reported reason)
// otherwise.
func (o *Orchestrator) processStep(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	gw, br, ok := o.gatewayFor(p.GatewayType)
	if !ok {
		return o.failPayment(ctx, p, errs.New(errs.KindInternal, "gateway "+p.GatewayType+" is not registered"))
	}

	resp, retries, err := invokeGateway(ctx, o, p.GatewayType, br, func(ctx context.Context) (gateway.ProcessResponse, error) {
		return gw.Process(ctx, gateway.ProcessRequest{
			PaymentID:            p.ID,
			GatewayTransactionID: p.GatewayTransactionID,
			AmountMinor:          p.Amount.Minor(),
			Currency:             string(p.Amount.Currency()),
		})
	})

	current, applyErr := o.applyRetries(ctx, p, retries)
	if applyErr != nil {
		return domain.Payment{}, applyErr
	}
	if err != nil {
		return o.failPayment(ctx, current, err)
	}

	if resp.Status == "succeeded" {
		return o.transitionAndEmit(ctx, current, func(cur domain.Payment, now time.Time) (domain.Payment, error) {
			return statemachine.MarkSuccess(cur, now)
		}, domain.EventSucceeded, func(next domain.Payment) any {
			return domain.SucceededPayload{GatewayTransactionID: next.GatewayTransactionID}
		})
	}

	reason := resp.Reason
	if reason == "" {
		reason = "gateway reported a failed status"
	}
	return o.failPayment(ctx, current, errs.New(errs.KindGateway, reason))
}

// retryFingerprint is RetryPayment's requestBody for idempotent
// admission: hashing (originalPaymentId, attempt) instead of the
// original CreateCommand, since the retry operation scope is distinct.
type retryFingerprint struct {
	OriginalPaymentID string `json:"originalPaymentId"`
	Attempt           int    `json:"attempt"`
}

// RetryPayment admits a fresh payment attempt for a FAILURE payment.
// It never implicitly retries under the original idempotency key;
// admission is scoped to a distinct "charge.retry.N" operation so the
// FAILED-cached result under "charge" is never silently bypassed.
// Callers drive the returned Payment through ProcessPayment as usual.
func (o *Orchestrator) RetryPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	p, err := o.Repo.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.State != domain.StateFailure {
		return domain.Payment{}, errs.New(errs.KindValidation, "only a FAILURE payment can be retried")
	}
	if !p.CanRetry(o.cfg.MaxRetries) {
		return domain.Payment{}, errs.New(errs.KindValidation, "payment has exhausted its retry budget")
	}

	attempt := p.RetryCount + 1
	operation := fmt.Sprintf("charge.retry.%d", attempt)
	merchantID := p.Metadata[merchantMetadataKey]

	doWork := func(ctx context.Context) (domain.Payment, error) {
		return o.admitRetryPayment(ctx, p, attempt)
	}

	return idempotency.ExecuteIdempotent[domain.Payment](ctx, o.Idempotency, merchantID, operation, p.ID,
		retryFingerprint{OriginalPaymentID: p.ID, Attempt: attempt}, doWork)
}

func (o *Orchestrator) admitRetryPayment(ctx context.Context, original domain.Payment, attempt int) (domain.Payment, error) {
	now := o.now()
	metadata := make(map[string]string, len(original.Metadata)+1)
	for k, v := range original.Metadata {
		metadata[k] = v
	}
	metadata["retryOf"] = original.ID

	p := domain.Payment{
		ID:             "pay_" + uuid.NewString(),
		IdempotencyKey: fmt.Sprintf("%s:retry:%d", original.IdempotencyKey, attempt),
		State:          domain.StateInitiated,
		Amount:         original.Amount,
		PaymentMethod:  original.PaymentMethod,
		Customer:       original.Customer,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		RetryCount:     attempt,
		Version:        1,
	}
	if err := p.Validate(); err != nil {
		return domain.Payment{}, err
	}
	if err := o.Repo.Create(ctx, p); err != nil {
		return domain.Payment{}, err
	}

	event, err := domain.NewEvent(domain.EventInitiated, p.ID, p.Version, now, domain.InitiatedPayload{
		IdempotencyKey: p.IdempotencyKey,
		Amount:         p.Amount,
		PaymentMethod:  p.PaymentMethod,
		Customer:       p.Customer,
		Metadata:       p.Metadata,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.Events.Append(ctx, p.ID, []domain.Event{event}); err != nil {
		return domain.Payment{}, err
	}

	o.indexCustomer(p.Customer.ID, p.ID)
	o.bumpMetric(func(m *Metrics) { m.TotalCreated++ })
	o.runListeners(ctx, p, domain.EventInitiated)
	o.Hooks.RunMetricsHooks(ctx, p, "retry-create", nil)

	return p, nil
}
