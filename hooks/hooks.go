// Package hooks implements the typed hook registry. Hooks never
// mutate a Payment directly; their outputs feed the orchestrator's
// own state transitions. Each entry carries an explicit Priority
// (higher runs first) since the registry spans eight independent hook
// kinds rather than one fixed chain.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/plm/payment-orchestrator/domain"
)

// FraudDecision is the output of a fraud-check hook.
type FraudDecision struct {
	Allowed bool
	Reason  string
}

// RoutingDecision is the output of a routing-strategy hook: a proposed
// gateway name with a confidence in [0,1].
type RoutingDecision struct {
	Gateway    string
	Confidence float64
}

// PreValidation runs before domain validation, typically to normalize
// or reject a CreatePayment command before a Payment is constructed.
type PreValidation func(ctx context.Context, cmd domain.CreateCommand) error

// PostValidation runs after a Payment has been constructed and validated.
type PostValidation func(ctx context.Context, p domain.Payment) error

// FraudCheck evaluates a constructed Payment for fraud risk.
type FraudCheck func(ctx context.Context, p domain.Payment) (FraudDecision, error)

// RoutingStrategy proposes a gateway for a Payment.
type RoutingStrategy func(ctx context.Context, p domain.Payment) (RoutingDecision, error)

// Enrichment augments a command's metadata before the Payment is built.
// It returns the metadata to merge in, never a mutated Payment.
type Enrichment func(ctx context.Context, cmd domain.CreateCommand) (map[string]string, error)

// EventListener observes a Payment event after it's been appended.
// Listeners run best-effort; their errors are reported via onErr but
// never propagated to the orchestrator.
type EventListener func(ctx context.Context, p domain.Payment, eventType domain.EventType) error

// MetricsHook observes a completed orchestrator step.
type MetricsHook func(ctx context.Context, p domain.Payment, step string, err error)

// ErrorHandler observes a terminal orchestrator failure.
type ErrorHandler func(ctx context.Context, p domain.Payment, err error)

type entry[T any] struct {
	name     string
	priority int
	enabled  bool
	fn       T
}

func sortByPriority[T any](entries []entry[T]) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
}

// Registry holds the typed hook lists. Zero value is usable; hooks
// are added via the Register* methods.
type Registry struct {
	mu sync.RWMutex

	preValidation   []entry[PreValidation]
	postValidation  []entry[PostValidation]
	fraudChecks     []entry[FraudCheck]
	routingStrategy []entry[RoutingStrategy]
	enrichment      []entry[Enrichment]
	listeners       []entry[EventListener]
	metrics         []entry[MetricsHook]
	errorHandlers   []entry[ErrorHandler]
}

// New constructs an empty Registry.
func New() *Registry { return &Registry{} }

// RegisterPreValidation adds a pre-validation hook at the given priority.
func (r *Registry) RegisterPreValidation(name string, priority int, fn PreValidation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preValidation = append(r.preValidation, entry[PreValidation]{name, priority, true, fn})
	sortByPriority(r.preValidation)
}

// RegisterPostValidation adds a post-validation hook at the given priority.
func (r *Registry) RegisterPostValidation(name string, priority int, fn PostValidation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postValidation = append(r.postValidation, entry[PostValidation]{name, priority, true, fn})
	sortByPriority(r.postValidation)
}

// RegisterFraudCheck adds a fraud-check hook at the given priority.
func (r *Registry) RegisterFraudCheck(name string, priority int, fn FraudCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fraudChecks = append(r.fraudChecks, entry[FraudCheck]{name, priority, true, fn})
	sortByPriority(r.fraudChecks)
}

// RegisterRoutingStrategy adds a routing-strategy hook at the given priority.
func (r *Registry) RegisterRoutingStrategy(name string, priority int, fn RoutingStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routingStrategy = append(r.routingStrategy, entry[RoutingStrategy]{name, priority, true, fn})
	sortByPriority(r.routingStrategy)
}

// RegisterEnrichment adds an enrichment hook at the given priority.
func (r *Registry) RegisterEnrichment(name string, priority int, fn Enrichment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichment = append(r.enrichment, entry[Enrichment]{name, priority, true, fn})
	sortByPriority(r.enrichment)
}

// RegisterEventListener adds an event-listener hook at the given priority.
func (r *Registry) RegisterEventListener(name string, priority int, fn EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, entry[EventListener]{name, priority, true, fn})
	sortByPriority(r.listeners)
}

// RegisterMetricsHook adds a metrics hook at the given priority.
func (r *Registry) RegisterMetricsHook(name string, priority int, fn MetricsHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, entry[MetricsHook]{name, priority, true, fn})
	sortByPriority(r.metrics)
}

// RegisterErrorHandler adds an error-handler hook at the given priority.
func (r *Registry) RegisterErrorHandler(name string, priority int, fn ErrorHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHandlers = append(r.errorHandlers, entry[ErrorHandler]{name, priority, true, fn})
	sortByPriority(r.errorHandlers)
}

// SetEnabled toggles a previously registered hook by name across every
// kind it could belong to (names are expected to be unique per Registry).
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	setEnabled(r.preValidation, name, enabled)
	setEnabled(r.postValidation, name, enabled)
	setEnabled(r.fraudChecks, name, enabled)
	setEnabled(r.routingStrategy, name, enabled)
	setEnabled(r.enrichment, name, enabled)
	setEnabled(r.listeners, name, enabled)
	setEnabled(r.metrics, name, enabled)
	setEnabled(r.errorHandlers, name, enabled)
}

func setEnabled[T any](entries []entry[T], name string, enabled bool) {
	for i := range entries {
		if entries[i].name == name {
			entries[i].enabled = enabled
		}
	}
}
