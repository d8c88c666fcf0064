package router

import (
	"github.com/maestro-cli/maestro/pkg/provider"
	"github.com/maestro-cli/maestro/pkg/registry"
)

// candidate is one scored (provider, model) pair.
type candidate struct {
	snapshot registry.Snapshot
	model    registry.ModelConfig
	cost     float64
	score    float64
}

// scoreCandidates scores every provider's best model under the strategy.
// Higher scores rank earlier; ties keep registration order.
func scoreCandidates(strategy Strategy, snapshots []registry.Snapshot, req Request) []candidate {
	tier := req.Complexity
	if tier == "" {
		tier = ComplexityMedium
	}

	inputTokens := provider.EstimateTokens(req.Prompt)
	outputTokens := expectedOutputTokens[tier]

	candidates := []candidate{}
	for _, snap := range snapshots {
		if req.Capability != "" && len(snap.Capabilities) > 0 && !snap.HasCapability(req.Capability) {
			continue
		}
		best, ok := bestModel(strategy, snap, tier, inputTokens, outputTokens)
		if !ok {
			continue
		}
		candidates = append(candidates, best)
	}

	// Insertion sort keeps the registration-order tie-break stable.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	return candidates
}

// bestModel picks the provider's highest-scoring model under the strategy.
func bestModel(strategy Strategy, snap registry.Snapshot, tier Complexity, inputTokens, outputTokens int) (candidate, bool) {
	var best candidate
	found := false

	for _, model := range snap.Models {
		cost := estimateCost(model.Pricing, inputTokens, outputTokens)
		c := candidate{
			snapshot: snap,
			model:    model,
			cost:     cost,
			score:    scoreOne(strategy, snap, model, tier, cost),
		}
		if !found || c.score > best.score {
			best = c
			found = true
		}
	}

	return best, found
}

func scoreOne(strategy Strategy, snap registry.Snapshot, model registry.ModelConfig, tier Complexity, cost float64) float64 {
	switch strategy {
	case StrategyCost:
		// Pure minimum-cost ranking; negation makes cheaper score higher
		// without the [0,1] ceiling collapsing expensive candidates into ties.
		return -cost
	case StrategyPerformance:
		score := normalizeLatency(snap.AvgLatencyMs)
		// Local model servers always outrank remote APIs.
		if snap.Class == registry.ClassLocal {
			score += 2
		}
		return score
	case StrategyQuality:
		return model.QualityFor(string(tier))
	default: // StrategyBalanced
		return weightCost*normalizeCost(cost) +
			weightQuality*model.QualityFor(string(tier)) +
			weightPerformance*normalizeLatency(snap.AvgLatencyMs)
	}
}

// estimateCost computes the expected dollar cost of one request.
func estimateCost(pricing provider.Pricing, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*pricing.InputPerToken + float64(outputTokens)*pricing.OutputPerToken
}

// normalizeCost maps a dollar cost into [0,1]: 1 at $0, 0 at the ceiling.
func normalizeCost(cost float64) float64 {
	return clamp01(1 - cost/costCeiling)
}

// normalizeLatency maps milliseconds into [0,1]: 1 at 0ms, 0 at the ceiling.
func normalizeLatency(ms float64) float64 {
	return clamp01(1 - ms/latencyCeilingMs)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
