package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/gammazero/workerpool"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/eventstore"
	"github.com/plm/payment-orchestrator/gateway"
	"github.com/plm/payment-orchestrator/gateway/mock"
	"github.com/plm/payment-orchestrator/hooks"
	"github.com/plm/payment-orchestrator/idempotency"
	"github.com/plm/payment-orchestrator/lock"
	"github.com/plm/payment-orchestrator/repository"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *workerpool.WorkerPool) {
	t.Helper()
	idem := idempotency.NewEngine(idempotency.NewInMemoryStore(), lock.NewInMemoryManager(), idempotency.DefaultConfig())
	pool := workerpool.New(2)
	t.Cleanup(pool.StopWait)
	o := New(DefaultConfig(), idem, repository.NewInMemoryRepository(), eventstore.NewInMemoryStore(), hooks.New(), pool)
	return o, pool
}

func testCommand(key string) domain.CreateCommand {
	return domain.CreateCommand{
		IdempotencyKey: key,
		MerchantID:     "merchant_1",
		Amount:         42.50,
		Currency:       "USD",
		PaymentMethod: domain.PaymentMethod{
			Type: domain.MethodCard,
			Card: &domain.CardDetail{Last4: "4242", Brand: "visa", ExpiryMonth: 1, ExpiryYear: 2030},
		},
		Customer: domain.Customer{ID: "cust_1", Email: "a@example.com"},
	}
}

func TestCreateAndProcessPaymentHappyPath(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.RegisterGateway("primary", mock.New("primary", mock.Script{}))

	ctx := context.Background()
	p, err := o.CreatePayment(ctx, testCommand("key-1"))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if p.State != domain.StateInitiated {
		t.Fatalf("expected INITIATED, got %s", p.State)
	}

	final, err := o.ProcessPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if final.State != domain.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", final.State)
	}

	events, err := o.Events.GetEvents(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	wantTypes := []domain.EventType{
		domain.EventInitiated, domain.EventAuthenticated, domain.EventProcessing, domain.EventSucceeded,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, e := range events {
		if e.EventType != wantTypes[i] {
			t.Errorf("event %d: expected %s, got %s", i, wantTypes[i], e.EventType)
		}
		if e.Version != int64(i+1) {
			t.Errorf("event %d: expected version %d, got %d", i, i+1, e.Version)
		}
	}
}

func TestCreatePaymentConcurrentDuplicatesRunDoWorkOnce(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.RegisterGateway("primary", mock.New("primary", mock.Script{}))

	ctx := context.Background()
	cmd := testCommand("key-concurrent")

	const callers = 8
	results := make([]domain.Payment, callers)
	callErrs := make([]error, callers)
	done := make(chan int, callers)
	for i := 0; i < callers; i++ {
		go func(idx int) {
			p, err := o.CreatePayment(ctx, cmd)
			results[idx] = p
			callErrs[idx] = err
			done <- idx
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-done
	}

	firstID := ""
	for i, err := range callErrs {
		if err != nil {
			t.Fatalf("caller %d: CreatePayment: %v", i, err)
		}
		if firstID == "" {
			firstID = results[i].ID
		}
		if results[i].ID != firstID {
			t.Fatalf("caller %d: got payment id %s, want %s (duplicate admission ran doWork twice)", i, results[i].ID, firstID)
		}
	}

	events, err := o.Events.GetEvents(ctx, firstID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	initiated := 0
	for _, e := range events {
		if e.EventType == domain.EventInitiated {
			initiated++
		}
	}
	if initiated != 1 {
		t.Fatalf("expected exactly one PAYMENT_INITIATED event, got %d", initiated)
	}
}

func TestCreatePaymentTamperDetection(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.RegisterGateway("primary", mock.New("primary", mock.Script{}))

	ctx := context.Background()
	key := "key-tamper"
	if _, err := o.CreatePayment(ctx, testCommand(key)); err != nil {
		t.Fatalf("first CreatePayment: %v", err)
	}

	tampered := testCommand(key)
	tampered.Amount = 999.00
	_, err := o.CreatePayment(ctx, tampered)
	if err == nil {
		t.Fatal("expected an error reusing the same idempotency key with a different request body")
	}
	if errs.Of(err) != errs.KindFingerprintMismatch {
		t.Fatalf("expected KindFingerprintMismatch, got %s (%v)", errs.Of(err), err)
	}
}

func TestProcessPaymentRetriesTransientGatewayFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	gw := mock.New("primary", mock.Script{
		ProcessErr: []error{errors.New("timeout talking to gateway"), errors.New("timeout talking to gateway")},
	})
	o.RegisterGateway("primary", gw)

	ctx := context.Background()
	p, err := o.CreatePayment(ctx, testCommand("key-retry"))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	final, err := o.ProcessPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if final.State != domain.StateSuccess {
		t.Fatalf("expected SUCCESS after transient failures recover, got %s", final.State)
	}
	// applyRetries bumps RetryCount once per step that spent any
	// retries at all, not once per retry attempt; processStep is the
	// only step that retried here, so RetryCount advances by 1.
	if final.RetryCount != 1 {
		t.Fatalf("expected retryCount=1, got %d", final.RetryCount)
	}

	events, err := o.Events.GetEvents(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	succeeded := 0
	for _, e := range events {
		if e.EventType == domain.EventSucceeded {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one PAYMENT_SUCCEEDED event, got %d", succeeded)
	}
	if gw.CallCount("process") != 3 {
		t.Fatalf("expected 3 process calls (2 failed + 1 success), got %d", gw.CallCount("process"))
	}
}

func TestProcessPaymentFailsAfterRetryBudgetExhausted(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	cfg := DefaultConfig()
	cfg.Retry.MaxRetries = 1
	o = New(cfg, o.Idempotency, o.Repo, o.Events, o.Hooks, o.Listeners)
	gw := mock.New("primary", mock.Script{
		ProcessErr: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
	})
	o.RegisterGateway("primary", gw)

	ctx := context.Background()
	p, err := o.CreatePayment(ctx, testCommand("key-exhausted"))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	final, err := o.ProcessPayment(ctx, p.ID)
	if err == nil {
		t.Fatal("expected ProcessPayment to surface the gateway failure once retries are exhausted")
	}
	if final.State != domain.StateFailure {
		t.Fatalf("expected FAILURE, got %s", final.State)
	}
}

func TestRetryPaymentScopesAdmissionSeparatelyFromOriginalCharge(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	cfg := DefaultConfig()
	cfg.Retry.MaxRetries = 0
	o = New(cfg, o.Idempotency, o.Repo, o.Events, o.Hooks, o.Listeners)
	gw := mock.New("primary", mock.Script{
		ProcessErr: []error{errors.New("declined")},
	})
	o.RegisterGateway("primary", gw)

	ctx := context.Background()
	p, err := o.CreatePayment(ctx, testCommand("key-retry-payment"))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	failed, err := o.ProcessPayment(ctx, p.ID)
	if err == nil {
		t.Fatal("expected the original charge to fail")
	}
	if failed.State != domain.StateFailure {
		t.Fatalf("expected FAILURE, got %s", failed.State)
	}

	retried, err := o.RetryPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("RetryPayment: %v", err)
	}
	if retried.ID == p.ID {
		t.Fatal("expected RetryPayment to admit a distinct aggregate id")
	}
	if retried.State != domain.StateInitiated {
		t.Fatalf("expected retried payment to start INITIATED, got %s", retried.State)
	}
}

func TestBreakerOpensAfterRepeatedGatewayFailures(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	cfg := DefaultConfig()
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.MinSampleSize = 1
	cfg.Retry.MaxRetries = 0
	o = New(cfg, o.Idempotency, o.Repo, o.Events, o.Hooks, o.Listeners)

	var initiateErrs []error
	for i := 0; i < 5; i++ {
		initiateErrs = append(initiateErrs, gateway.NewError("primary", gateway.CodeCardDeclined, "declined"))
	}
	gw := mock.New("primary", mock.Script{Initiate: initiateErrs})
	o.RegisterGateway("primary", gw)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p, err := o.CreatePayment(ctx, testCommand("key-breaker-"+string(rune('a'+i))))
		if err != nil {
			t.Fatalf("CreatePayment %d: %v", i, err)
		}
		o.ProcessPayment(ctx, p.ID)
	}

	health, err := o.GetHealthSummary(ctx)
	if err != nil {
		t.Fatalf("GetHealthSummary: %v", err)
	}
	// CodeCardDeclined is non-retryable, so the first
	// CreatePayment/ProcessPayment pair records its failure against the
	// breaker without the retry policy masking it; that failure already
	// opens it (the adaptive threshold scales FailureThreshold 2 down to
	// 1), and the later pairs are turned away by the open breaker.
	if health["primary"].State != breaker.StateOpen {
		t.Fatalf("expected breaker to have opened after repeated non-retryable failures, state=%s", health["primary"].State)
	}
}

func TestRecoverIncompleteReconcilesStuckProcessingPayment(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	gw := mock.New("primary", mock.Script{})
	o.RegisterGateway("primary", gw)

	ctx := context.Background()
	p, err := o.CreatePayment(ctx, testCommand("key-recovery"))
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	// Drive the payment to AUTHENTICATED, then hand-initiate against the
	// gateway directly so the aggregate is left stuck in PROCESSING with
	// a live gateway transaction id but no PAYMENT_SUCCEEDED/FAILED event,
	// simulating a crash mid-charge.
	authenticated, err := o.authenticateStep(ctx, p)
	if err != nil {
		t.Fatalf("authenticateStep: %v", err)
	}
	processing, err := o.initiateStep(ctx, authenticated)
	if err != nil {
		t.Fatalf("initiateStep: %v", err)
	}
	if processing.State != domain.StateProcessing {
		t.Fatalf("expected PROCESSING, got %s", processing.State)
	}

	// The gateway completes the charge, but nothing records it in the
	// event log yet: exactly the state a crash between the gateway call
	// and the event append would leave behind.
	if _, err := gw.Process(ctx, gateway.ProcessRequest{
		PaymentID:            processing.ID,
		GatewayTransactionID: processing.GatewayTransactionID,
		AmountMinor:          processing.Amount.Minor(),
		Currency:             string(processing.Amount.Currency()),
	}); err != nil {
		t.Fatalf("gw.Process: %v", err)
	}

	results, err := o.RecoverIncomplete(ctx)
	if err != nil {
		t.Fatalf("RecoverIncomplete: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 recovery result, got %d", len(results))
	}
	if !results[0].Reconciled {
		t.Fatalf("expected the stuck payment to be reconciled")
	}
	if results[0].After != domain.StateSuccess {
		t.Fatalf("expected recovered state SUCCESS (mock gateway reports processing->succeeded), got %s", results[0].After)
	}

	stored, err := o.Repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Repo.Get: %v", err)
	}
	if stored.State != domain.StateSuccess {
		t.Fatalf("expected repository to reflect the reconciled SUCCESS state, got %s", stored.State)
	}
}
