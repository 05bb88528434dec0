package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/eventstore"
	"github.com/plm/payment-orchestrator/gateway"
	"github.com/plm/payment-orchestrator/hooks"
	"github.com/plm/payment-orchestrator/idempotency"
	"github.com/plm/payment-orchestrator/money"
	"github.com/plm/payment-orchestrator/repository"
)

// merchantMetadataKey is where CreatePayment stashes the admitting
// command's merchantId, since domain.Payment itself has no
// multi-tenancy field; RetryPayment needs it back to build a
// correctly scoped idempotency key for the retry attempt.
const merchantMetadataKey = "_merchantId"

// Metrics is the orchestrator-level counter summary getMetrics()
// returns, independent of any one gateway's routing.Metrics.
type Metrics struct {
	TotalCreated   int64
	TotalSucceeded int64
	TotalFailed    int64
}

// Orchestrator drives a charge through idempotent admission, gateway
// selection, and the breaker+retry-wrapped gateway calls, appending
// an event and persisting a new version at every transition, with
// registered hooks running at each extension point.
type Orchestrator struct {
	cfg Config

	Idempotency *idempotency.Engine
	Versioned   *repository.VersionedPaymentService
	Repo        repository.Repository
	Events      eventstore.Store
	Hooks       *hooks.Registry
	Listeners   *workerpool.WorkerPool

	now func() time.Time

	mu        sync.RWMutex
	gateways  map[string]gateway.Gateway
	breakers  map[string]breaker.Breaker
	stats     map[string]*gatewayStats
	customers map[string][]string

	metricsMu sync.Mutex
	metrics   Metrics
}

// New wires an Orchestrator from its collaborators. idem must already
// be constructed over a Store+lock.Manager pair; listenerPool is the
// bounded worker pool event-listener hooks fan out onto, owned and
// stopped by the caller.
func New(cfg Config, idem *idempotency.Engine, repo repository.Repository, events eventstore.Store, hookRegistry *hooks.Registry, listenerPool *workerpool.WorkerPool) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		Idempotency: idem,
		Versioned:   repository.NewVersionedPaymentService(repo, cfg.OptimisticLock),
		Repo:        repo,
		Events:      events,
		Hooks:       hookRegistry,
		Listeners:   listenerPool,
		now:         time.Now,
		gateways:    make(map[string]gateway.Gateway),
		breakers:    make(map[string]breaker.Breaker),
		stats:       make(map[string]*gatewayStats),
		customers:   make(map[string][]string),
	}
}

func mergeMetadata(enriched, caller map[string]string) map[string]string {
	merged := make(map[string]string, len(enriched)+len(caller))
	for k, v := range enriched {
		merged[k] = v
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}

// CreatePayment admits the command through the idempotency engine; on
// first admission it runs pre-validation and enrichment hooks,
// constructs the Payment in INITIATED, persists it, and appends
// PAYMENT_INITIATED.
func (o *Orchestrator) CreatePayment(ctx context.Context, cmd domain.CreateCommand) (domain.Payment, error) {
	doWork := func(ctx context.Context) (domain.Payment, error) {
		if err := o.Hooks.RunPreValidation(ctx, cmd); err != nil {
			return domain.Payment{}, err
		}

		enriched, err := o.Hooks.RunEnrichment(ctx, cmd)
		if err != nil {
			return domain.Payment{}, err
		}
		metadata := mergeMetadata(enriched, cmd.Metadata)
		metadata[merchantMetadataKey] = cmd.MerchantID

		return o.admitNewPayment(ctx, cmd, metadata)
	}

	p, err := idempotency.ExecuteIdempotent[domain.Payment](ctx, o.Idempotency, cmd.MerchantID, "charge", cmd.IdempotencyKey, cmd, doWork)
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

// admitNewPayment is the doWork body ExecuteIdempotent runs at most
// once per (merchantId, operation, callerKey): it is where the new
// aggregate actually comes into being.
func (o *Orchestrator) admitNewPayment(ctx context.Context, cmd domain.CreateCommand, metadata map[string]string) (domain.Payment, error) {
	amount, err := money.New(cmd.Amount, money.Currency(cmd.Currency))
	if err != nil {
		return domain.Payment{}, err
	}

	now := o.now()
	p := domain.Payment{
		ID:             "pay_" + uuid.NewString(),
		IdempotencyKey: cmd.IdempotencyKey,
		State:          domain.StateInitiated,
		Amount:         amount,
		PaymentMethod:  cmd.PaymentMethod,
		Customer:       cmd.Customer,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if err := p.Validate(); err != nil {
		return domain.Payment{}, err
	}

	if err := o.Hooks.RunPostValidation(ctx, p); err != nil {
		return domain.Payment{}, err
	}
	decision, err := o.Hooks.RunFraudChecks(ctx, p)
	if err != nil {
		return domain.Payment{}, err
	}
	if !decision.Allowed {
		return domain.Payment{}, errs.New(errs.KindValidation, fmt.Sprintf("rejected by fraud check: %s", decision.Reason))
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
	o.Hooks.RunMetricsHooks(ctx, p, "create", nil)

	return p, nil
}

func (o *Orchestrator) indexCustomer(customerID, paymentID string) {
	if customerID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.customers[customerID] = append(o.customers[customerID], paymentID)
}

func (o *Orchestrator) bumpMetric(f func(m *Metrics)) {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	f(&o.metrics)
}

func (o *Orchestrator) runListeners(ctx context.Context, p domain.Payment, eventType domain.EventType) {
	if o.Listeners == nil {
		return
	}
	o.Hooks.RunEventListeners(ctx, o.Listeners, p, eventType, func(name string, err error) {
		o.Hooks.RunErrorHandlers(ctx, p, fmt.Errorf("listener %q: %w", name, err))
	})
}

// GetPayment returns the current persisted state of id.
func (o *Orchestrator) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return o.Repo.Get(ctx, id)
}

// GetCustomerPayments returns every payment created for customerID,
// re-read live from the repository (the index only remembers ids).
func (o *Orchestrator) GetCustomerPayments(ctx context.Context, customerID string) ([]domain.Payment, error) {
	o.mu.RLock()
	ids := append([]string{}, o.customers[customerID]...)
	o.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := o.Repo.Get(ctx, id)
		if err != nil {
			continue
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// GetMetrics reports the orchestrator-level lifecycle counters.
func (o *Orchestrator) GetMetrics() Metrics {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	return o.metrics
}
