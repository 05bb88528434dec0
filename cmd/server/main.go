// Command server is a demonstration entry point wiring the full
// payment pipeline into a runnable Orchestrator over in-memory ports.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/eventstore"
	"github.com/plm/payment-orchestrator/gateway/mock"
	"github.com/plm/payment-orchestrator/hooks"
	"github.com/plm/payment-orchestrator/idempotency"
	"github.com/plm/payment-orchestrator/lock"
	"github.com/plm/payment-orchestrator/notify"
	"github.com/plm/payment-orchestrator/orchestrator"
	"github.com/plm/payment-orchestrator/receipts"
	"github.com/plm/payment-orchestrator/repository"
)

func main() {
	log.Println("starting payment-orchestrator demo...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := orchestrator.DefaultConfig()

	store := idempotency.NewInMemoryStore()
	locks := lock.NewInMemoryManager()
	idem := idempotency.NewEngine(store, locks, cfg.Idempotency)

	repo := repository.NewInMemoryRepository()
	events := eventstore.NewInMemoryStore()

	registry := hooks.New()
	listenerPool := workerpool.New(4)
	defer listenerPool.StopWait()

	hub := notify.NewHub()
	go hub.Run(ctx.Done())
	receiptGen := receipts.NewGenerator("Payment Orchestrator Demo")

	registry.RegisterEventListener("dashboard-broadcast", 100, func(ctx context.Context, p domain.Payment, eventType domain.EventType) error {
		hub.BroadcastPaymentEvent(p, eventType)
		return nil
	})
	registry.RegisterEventListener("receipt-on-success", 50, func(ctx context.Context, p domain.Payment, eventType domain.EventType) error {
		if eventType != domain.EventSucceeded {
			return nil
		}
		pdf, err := receiptGen.GeneratePDF(p)
		if err != nil {
			return err
		}
		log.Printf("receipt generated for payment %s (%d bytes)", p.ID, len(pdf))
		return nil
	})

	orch := orchestrator.New(cfg, idem, repo, events, registry, listenerPool)

	orch.RegisterGateway("primary", mock.New("primary", mock.Script{}))
	orch.RegisterGateway("backup", mock.New("backup", mock.Script{}))

	log.Printf("registered gateways; breaker defaults: %+v", cfg.CircuitBreaker)

	payment, err := orch.CreatePayment(ctx, domain.CreateCommand{
		IdempotencyKey: "demo-key-1",
		MerchantID:     "demo-merchant",
		Amount:         100.00,
		Currency:       "USD",
		PaymentMethod: domain.PaymentMethod{
			Type: domain.MethodCard,
			Card: &domain.CardDetail{Last4: "4242", Brand: "visa", ExpiryMonth: 12, ExpiryYear: 2030},
		},
		Customer: domain.Customer{ID: "cust-1", Email: "demo@example.com"},
	})
	if err != nil {
		log.Fatalf("create payment: %v", err)
	}
	log.Printf("created payment %s in state %s", payment.ID, payment.State)

	final, err := orch.ProcessPayment(ctx, payment.ID)
	if err != nil {
		log.Printf("process payment error: %v", err)
	} else {
		log.Printf("payment %s finished in state %s", final.ID, final.State)
	}

	summary, err := orch.GetHealthSummary(ctx)
	if err != nil {
		log.Printf("health summary error: %v", err)
	}
	for name, h := range summary {
		log.Printf("gateway %s: state=%v healthScore=%.2f successRate=%.2f", name, h.State, h.HealthScore, h.SuccessRate)
	}

	log.Printf("orchestrator metrics: %+v", orch.GetMetrics())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down")
	case <-time.After(2 * time.Second):
		log.Println("demo complete")
	}
}
