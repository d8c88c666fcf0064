package router

import (
	"errors"

	"github.com/maestro-cli/maestro/pkg/registry"
)

// Strategy selects the scoring function used to rank providers. The set
// is closed and known at compile time; configuration picks one.
type Strategy string

const (
	StrategyCost        Strategy = "cost"
	StrategyPerformance Strategy = "performance"
	StrategyQuality     Strategy = "quality"
	StrategyBalanced    Strategy = "balanced"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCost, StrategyPerformance, StrategyQuality, StrategyBalanced:
		return true
	}
	return false
}

// Complexity tiers drive expected output length and quality lookups.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// expectedOutputTokens maps a complexity tier to the assumed completion length.
var expectedOutputTokens = map[Complexity]int{
	ComplexitySimple:  100,
	ComplexityMedium:  500,
	ComplexityComplex: 2000,
}

// Request describes one routing request.
type Request struct {
	ID         string     `json:"id,omitempty"`
	Prompt     string     `json:"prompt"`
	Complexity Complexity `json:"complexity,omitempty"` // default medium

	// Capability restricts candidates to providers declaring it. Providers
	// registered without a capability list are treated as unrestricted.
	Capability registry.Capability `json:"capability,omitempty"`
}

// Decision is the immutable outcome of one routing request.
type Decision struct {
	RequestID     string   `json:"request_id"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	EstimatedCost float64  `json:"estimated_cost"`
	Fallbacks     []string `json:"fallbacks"`
	Reason        string   `json:"reason"`
	Confidence    float64  `json:"confidence"` // in [0,1]
}

// ErrNoProvidersAvailable is returned when the available provider set is
// empty. It is surfaced to the caller and never retried internally.
var ErrNoProvidersAvailable = errors.New("no providers available")

// Balanced-strategy weights and normalization bounds.
const (
	weightCost        = 0.35
	weightQuality     = 0.40
	weightPerformance = 0.25

	costCeiling      = 0.10   // dollars; cost score is 0 at or above this
	latencyCeilingMs = 5000.0 // latency score is 0 at or above this
)
