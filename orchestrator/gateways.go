package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/gateway"
	"github.com/plm/payment-orchestrator/gateway/mock"
	"github.com/plm/payment-orchestrator/gateway/stripeadapter"
	"github.com/plm/payment-orchestrator/routing"
)

// latencyRingSize bounds the per-gateway latency window; percentiles
// are computed from a sorted copy of this ring on demand.
const latencyRingSize = 128

// gatewayStats accumulates the raw counters routing.Metrics is derived
// from. Kept process-local; a mutex-protected struct with a bounded
// latency ring keeps collection cheap on the request path.
type gatewayStats struct {
	mu        sync.Mutex
	successes int64
	failures  int64
	samples   int64

	latencies [latencyRingSize]time.Duration
	next      int
	filled    int
}

func (s *gatewayStats) record(latency time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	s.latencies[s.next] = latency
	s.next = (s.next + 1) % latencyRingSize
	if s.filled < latencyRingSize {
		s.filled++
	}
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func (s *gatewayStats) snapshot(maxLatency time.Duration) routing.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == 0 {
		return routing.Metrics{Samples: 0}
	}

	window := make([]time.Duration, s.filled)
	copy(window, s.latencies[:s.filled])
	var total time.Duration
	for _, l := range window {
		total += l
	}
	avgLatency := total / time.Duration(len(window))
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	p95 := window[(len(window)*95)/100]

	successRate := float64(s.successes) / float64(s.samples)
	normLatency := float64(avgLatency) / float64(maxLatency)
	if normLatency > 1 {
		normLatency = 1
	}
	return routing.Metrics{
		SuccessRate:       successRate,
		NormalizedLatency: normLatency,
		// Cost is an external-rate-card concern this core has no feed
		// for; treat every gateway as equally costly until a routing
		// rule hook supplies a real figure.
		NormalizedCost: 0.5,
		AvgLatency:     avgLatency,
		P95Latency:     p95,
		Samples:        s.samples,
	}
}

// gatewayLatencyCeiling normalizes observed latency against a 2s
// ceiling, beyond which a gateway is scored as maximally slow.
const gatewayLatencyCeiling = 2 * time.Second

// RegisterGateway wires gw into the orchestrator under name, giving it
// its own breaker (cloned from Config.CircuitBreaker) and metrics
// bucket. Safe to call concurrently with in-flight payments against
// other gateways.
func (o *Orchestrator) RegisterGateway(name string, gw gateway.Gateway) {
	cfg := o.cfg.CircuitBreaker
	cfg.Name = name

	o.mu.Lock()
	defer o.mu.Unlock()
	o.gateways[name] = gw
	o.breakers[name] = breaker.NewInMemoryBreaker(cfg)
	o.stats[name] = &gatewayStats{}
}

// GatewayConfig is the recognized options set for config-driven
// gateway registration.
type GatewayConfig struct {
	APIKey        string
	APISecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	Additional    map[string]string
}

// RegisterGatewayFromConfig builds the adapter for a known gateway
// type and registers it. Types without a bundled adapter must be
// constructed by the caller and handed to RegisterGateway directly.
func (o *Orchestrator) RegisterGatewayFromConfig(gatewayType string, cfg GatewayConfig) error {
	switch gatewayType {
	case "stripe":
		o.RegisterGateway(gatewayType, stripeadapter.New(stripeadapter.Config{SecretKey: cfg.APIKey}))
	case "mock":
		o.RegisterGateway(gatewayType, mock.New(gatewayType, mock.Script{}))
	default:
		return errs.New(errs.KindValidation, "no bundled adapter for gateway type "+gatewayType)
	}
	return nil
}

func (o *Orchestrator) gatewayFor(name string) (gateway.Gateway, breaker.Breaker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	gw, ok := o.gateways[name]
	if !ok {
		return nil, nil, false
	}
	return gw, o.breakers[name], true
}

// candidates builds the routing.Candidate list over every registered
// gateway not already excluded, snapshotting live breaker health.
func (o *Orchestrator) candidates(ctx context.Context, excluded map[string]bool) ([]routing.Candidate, map[string]routing.Metrics, error) {
	o.mu.RLock()
	names := make([]string, 0, len(o.gateways))
	for name := range o.gateways {
		if !excluded[name] {
			names = append(names, name)
		}
	}
	o.mu.RUnlock()
	sort.Strings(names)

	candidates := make([]routing.Candidate, 0, len(names))
	metrics := make(map[string]routing.Metrics, len(names))
	for _, name := range names {
		_, br, ok := o.gatewayFor(name)
		if !ok {
			continue
		}
		health, err := br.GetHealth(ctx)
		if err != nil {
			return nil, nil, err
		}
		candidates = append(candidates, routing.Candidate{Name: name, Health: health})
		o.mu.RLock()
		stats := o.stats[name]
		o.mu.RUnlock()
		metrics[name] = stats.snapshot(gatewayLatencyCeiling)
	}
	return candidates, metrics, nil
}

// GetGatewayMetrics reports the live routing.Metrics snapshot per
// registered gateway, the same inputs SelectGateway scores against.
func (o *Orchestrator) GetGatewayMetrics() map[string]routing.Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]routing.Metrics, len(o.stats))
	for name, s := range o.stats {
		out[name] = s.snapshot(gatewayLatencyCeiling)
	}
	return out
}

// GetHealthSummary reports every registered gateway's current breaker
// Health snapshot.
func (o *Orchestrator) GetHealthSummary(ctx context.Context) (map[string]breaker.Health, error) {
	o.mu.RLock()
	names := make([]string, 0, len(o.breakers))
	for name := range o.breakers {
		names = append(names, name)
	}
	o.mu.RUnlock()

	out := make(map[string]breaker.Health, len(names))
	for _, name := range names {
		_, br, ok := o.gatewayFor(name)
		if !ok {
			continue
		}
		health, err := br.GetHealth(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = health
	}
	return out, nil
}
