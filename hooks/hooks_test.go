package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gammazero/workerpool"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/money"
)

func testPayment() domain.Payment {
	amount, _ := money.New(10, money.USD)
	return domain.Payment{ID: "p1", Amount: amount}
}

func TestRunPreValidationStopsOnFirstError(t *testing.T) {
	r := New()
	var calls []string
	r.RegisterPreValidation("low", 1, func(ctx context.Context, cmd domain.CreateCommand) error {
		calls = append(calls, "low")
		return nil
	})
	r.RegisterPreValidation("high", 10, func(ctx context.Context, cmd domain.CreateCommand) error {
		calls = append(calls, "high")
		return errors.New("rejected")
	})

	err := r.RunPreValidation(context.Background(), domain.CreateCommand{})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(calls) != 1 || calls[0] != "high" {
		t.Fatalf("expected only the higher-priority hook to run first, got %v", calls)
	}
}

func TestRunFraudChecksShortCircuitsOnDisallow(t *testing.T) {
	r := New()
	var ranSecond bool
	r.RegisterFraudCheck("block", 10, func(ctx context.Context, p domain.Payment) (FraudDecision, error) {
		return FraudDecision{Allowed: false, Reason: "risk score too high"}, nil
	})
	r.RegisterFraudCheck("never", 1, func(ctx context.Context, p domain.Payment) (FraudDecision, error) {
		ranSecond = true
		return FraudDecision{Allowed: true}, nil
	})

	d, err := r.RunFraudChecks(context.Background(), testPayment())
	if err != nil {
		t.Fatalf("run fraud checks: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected disallow decision")
	}
	if ranSecond {
		t.Fatal("expected short-circuit before lower-priority hook ran")
	}
}

func TestRunFraudChecksAllowsWhenAllPass(t *testing.T) {
	r := New()
	r.RegisterFraudCheck("a", 1, func(ctx context.Context, p domain.Payment) (FraudDecision, error) {
		return FraudDecision{Allowed: true}, nil
	})
	d, err := r.RunFraudChecks(context.Background(), testPayment())
	if err != nil {
		t.Fatalf("run fraud checks: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected allow decision")
	}
}

func TestRunRoutingStrategyReturnsFirstConfidentDecision(t *testing.T) {
	r := New()
	r.RegisterRoutingStrategy("low-confidence", 10, func(ctx context.Context, p domain.Payment) (RoutingDecision, error) {
		return RoutingDecision{Gateway: "paypal", Confidence: 0.4}, nil
	})
	r.RegisterRoutingStrategy("confident", 5, func(ctx context.Context, p domain.Payment) (RoutingDecision, error) {
		return RoutingDecision{Gateway: "stripe", Confidence: 0.9}, nil
	})

	d, found, err := r.RunRoutingStrategy(context.Background(), testPayment())
	if err != nil {
		t.Fatalf("run routing strategy: %v", err)
	}
	if !found || d.Gateway != "stripe" {
		t.Fatalf("expected the confident decision to win, got %+v found=%v", d, found)
	}
}

func TestRunRoutingStrategyFallsBackToBestWhenNoneConfident(t *testing.T) {
	r := New()
	r.RegisterRoutingStrategy("a", 10, func(ctx context.Context, p domain.Payment) (RoutingDecision, error) {
		return RoutingDecision{Gateway: "paypal", Confidence: 0.3}, nil
	})
	r.RegisterRoutingStrategy("b", 5, func(ctx context.Context, p domain.Payment) (RoutingDecision, error) {
		return RoutingDecision{Gateway: "stripe", Confidence: 0.5}, nil
	})

	d, found, err := r.RunRoutingStrategy(context.Background(), testPayment())
	if err != nil {
		t.Fatalf("run routing strategy: %v", err)
	}
	if !found || d.Gateway != "stripe" {
		t.Fatalf("expected highest-confidence fallback stripe, got %+v", d)
	}
}

func TestRunEnrichmentMergesInPriorityOrder(t *testing.T) {
	r := New()
	r.RegisterEnrichment("low", 1, func(ctx context.Context, cmd domain.CreateCommand) (map[string]string, error) {
		return map[string]string{"source": "low", "a": "1"}, nil
	})
	r.RegisterEnrichment("high", 10, func(ctx context.Context, cmd domain.CreateCommand) (map[string]string, error) {
		return map[string]string{"source": "high"}, nil
	})

	merged, err := r.RunEnrichment(context.Background(), domain.CreateCommand{})
	if err != nil {
		t.Fatalf("run enrichment: %v", err)
	}
	if merged["source"] != "low" {
		t.Fatalf("expected later (lower-priority) hook to win on collision, got %q", merged["source"])
	}
	if merged["a"] != "1" {
		t.Fatalf("expected non-colliding key to survive, got %+v", merged)
	}
}

func TestRunEventListenersIsBestEffortAndConcurrent(t *testing.T) {
	r := New()
	var succeeded atomic.Int64
	var mu sync.Mutex
	var failedNames []string

	for i := 0; i < 5; i++ {
		name := "listener"
		shouldFail := i == 2
		r.RegisterEventListener(name, i, func(ctx context.Context, p domain.Payment, eventType domain.EventType) error {
			if shouldFail {
				return errors.New("webhook unreachable")
			}
			succeeded.Add(1)
			return nil
		})
	}

	wp := workerpool.New(2)
	defer wp.StopWait()

	r.RunEventListeners(context.Background(), wp, testPayment(), domain.EventSucceeded, func(name string, err error) {
		mu.Lock()
		failedNames = append(failedNames, name)
		mu.Unlock()
	})

	if succeeded.Load() != 4 {
		t.Fatalf("expected 4 listeners to succeed, got %d", succeeded.Load())
	}
	if len(failedNames) != 1 {
		t.Fatalf("expected exactly 1 reported failure, got %v", failedNames)
	}
}

func TestSetEnabledDisablesHook(t *testing.T) {
	r := New()
	var ran bool
	r.RegisterPreValidation("toggle", 1, func(ctx context.Context, cmd domain.CreateCommand) error {
		ran = true
		return nil
	})
	r.SetEnabled("toggle", false)

	if err := r.RunPreValidation(context.Background(), domain.CreateCommand{}); err != nil {
		t.Fatalf("run pre validation: %v", err)
	}
	if ran {
		t.Fatal("expected disabled hook not to run")
	}
}
