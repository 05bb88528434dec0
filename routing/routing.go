// Package routing implements the gateway selection engine: a flat
// weighted score over a small set of candidate gateways, with
// configurable weights and a health term fed by package breaker.
package routing

import (
	"sort"
	"time"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/errs"
)

// Weights configures the scoring formula's per-factor contribution.
// Callers are expected to keep them summing to 1, though SelectGateway
// does not enforce it.
type Weights struct {
	Success float64
	Latency float64
	Cost    float64
	Health  float64
}

// DefaultWeights favors success rate over latency, cost, and health.
func DefaultWeights() Weights {
	return Weights{Success: 0.5, Latency: 0.2, Cost: 0.2, Health: 0.1}
}

// Metrics is the rolling per-gateway performance snapshot a caller
// supplies. AvgLatency and P95Latency are observability passthroughs;
// scoring itself reads only the normalized fields.
type Metrics struct {
	SuccessRate       float64
	NormalizedLatency float64 // 0 (fastest) .. 1 (slowest); the caller picks the scale
	NormalizedCost    float64 // 0 (cheapest) .. 1 (most expensive); the caller picks the scale
	AvgLatency        time.Duration
	P95Latency        time.Duration
	Samples           int64
}

// Config bundles the scoring Weights with the neutral-prior policy for
// under-observed gateways.
type Config struct {
	Weights      Weights
	MinSamples   int64
	NeutralPrior float64
}

// DefaultConfig scores an unobserved gateway with a neutral 0.5 prior.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), MinSamples: 10, NeutralPrior: 0.5}
}

// Candidate is one gateway eligible for selection, carrying whatever
// breaker.Health the caller already fetched for it.
type Candidate struct {
	Name   string
	Health breaker.Health
}

// FactorScores records the per-factor contribution behind a Decision,
// so the chosen gateway can be explained in logs and tests.
type FactorScores struct {
	Success float64
	Latency float64
	Cost    float64
	Health  float64
}

// Decision is the outcome of SelectGateway: the winning gateway, its
// total score, and the inputs that produced it.
type Decision struct {
	Gateway string
	Score   float64
	Factors FactorScores
}

// SelectGateway scores every candidate and returns the highest-scoring
// one, tie-breaking deterministically by name. Candidates in breaker
// StateOpen score 0 regardless of metrics. A candidate with fewer than
// cfg.MinSamples observations is scored using cfg.NeutralPrior in place
// of its (unreliable) SuccessRate/latency/cost readings.
func SelectGateway(candidates []Candidate, metricsByGateway map[string]Metrics, cfg Config) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, errs.New(errs.KindValidation, "no candidate gateways supplied")
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var best Decision
	haveBest := false

	for _, c := range sorted {
		factors, score := scoreCandidate(c, metricsByGateway[c.Name], cfg)
		if !haveBest || score > best.Score {
			best = Decision{Gateway: c.Name, Score: score, Factors: factors}
			haveBest = true
		}
	}

	return best, nil
}

func scoreCandidate(c Candidate, m Metrics, cfg Config) (FactorScores, float64) {
	if c.Health.State == breaker.StateOpen {
		return FactorScores{}, 0
	}

	successRate := cfg.NeutralPrior
	latencyScore := cfg.NeutralPrior
	costScore := cfg.NeutralPrior
	if m.Samples >= cfg.MinSamples {
		successRate = m.SuccessRate
		latencyScore = 1 - m.NormalizedLatency
		costScore = 1 - m.NormalizedCost
	}

	w := cfg.Weights
	factors := FactorScores{
		Success: w.Success * successRate,
		Latency: w.Latency * latencyScore,
		Cost:    w.Cost * costScore,
		Health:  w.Health * c.Health.HealthScore,
	}
	total := factors.Success + factors.Latency + factors.Cost + factors.Health
	return factors, total
}
