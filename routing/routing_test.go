package routing

import (
	"testing"

	"github.com/plm/payment-orchestrator/breaker"
)

func closedHealth(score float64) breaker.Health {
	return breaker.Health{State: breaker.StateClosed, HealthScore: score}
}

func TestSelectGatewayPrefersHigherScore(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []Candidate{
		{Name: "stripe", Health: closedHealth(1.0)},
		{Name: "paypal", Health: closedHealth(1.0)},
	}
	metrics := map[string]Metrics{
		"stripe": {SuccessRate: 0.99, NormalizedLatency: 0.1, NormalizedCost: 0.2, Samples: 100},
		"paypal": {SuccessRate: 0.80, NormalizedLatency: 0.5, NormalizedCost: 0.5, Samples: 100},
	}

	d, err := SelectGateway(candidates, metrics, cfg)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d.Gateway != "stripe" {
		t.Fatalf("expected stripe to win, got %s (score %v)", d.Gateway, d.Score)
	}
}

func TestSelectGatewayOpenBreakerScoresZero(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []Candidate{
		{Name: "stripe", Health: breaker.Health{State: breaker.StateOpen, HealthScore: 1.0}},
		{Name: "paypal", Health: closedHealth(0.5)},
	}
	metrics := map[string]Metrics{
		"stripe": {SuccessRate: 0.99, NormalizedLatency: 0.1, NormalizedCost: 0.1, Samples: 100},
		"paypal": {SuccessRate: 0.5, NormalizedLatency: 0.5, NormalizedCost: 0.5, Samples: 100},
	}

	d, err := SelectGateway(candidates, metrics, cfg)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d.Gateway != "paypal" {
		t.Fatalf("expected open-breaker gateway to be passed over, got %s", d.Gateway)
	}
}

func TestSelectGatewayUsesNeutralPriorBelowMinSamples(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []Candidate{
		{Name: "newgw", Health: closedHealth(1.0)},
	}
	metrics := map[string]Metrics{
		"newgw": {SuccessRate: 0.01, NormalizedLatency: 0.99, NormalizedCost: 0.99, Samples: 1},
	}

	d, err := SelectGateway(candidates, metrics, cfg)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// With neutral priors of 0.5 for success/latency/cost and full health,
	// score should be well above what the (terrible) raw metrics would give.
	want := cfg.Weights.Success*0.5 + cfg.Weights.Latency*0.5 + cfg.Weights.Cost*0.5 + cfg.Weights.Health*1.0
	if d.Score < want-1e-9 || d.Score > want+1e-9 {
		t.Fatalf("expected neutral-prior score %v, got %v", want, d.Score)
	}
}

func TestSelectGatewayTieBreaksByName(t *testing.T) {
	cfg := DefaultConfig()
	candidates := []Candidate{
		{Name: "zeta", Health: closedHealth(1.0)},
		{Name: "alpha", Health: closedHealth(1.0)},
	}
	metrics := map[string]Metrics{} // both under minSamples -> identical neutral scores

	d, err := SelectGateway(candidates, metrics, cfg)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d.Gateway != "alpha" {
		t.Fatalf("expected deterministic tie-break to pick alpha, got %s", d.Gateway)
	}
}

func TestSelectGatewayRejectsEmptyCandidateList(t *testing.T) {
	if _, err := SelectGateway(nil, nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for empty candidate list")
	}
}
