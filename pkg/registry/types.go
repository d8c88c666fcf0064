package registry

import (
	"time"

	"github.com/maestro-cli/maestro/pkg/provider"
)

// HealthStatus represents the health state of a provider.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Class distinguishes local model servers from remote APIs.
type Class string

const (
	ClassLocal  Class = "local"
	ClassRemote Class = "remote"
)

// Capability flags what a provider can do.
type Capability string

const (
	CapChat      Capability = "chat"
	CapStreaming Capability = "streaming"
	CapTools     Capability = "tools"
)

// ModelConfig describes one model a provider serves: its pricing and its
// static quality score per complexity tier.
type ModelConfig struct {
	Name    string             `json:"name" mapstructure:"name"`
	Pricing provider.Pricing   `json:"pricing" mapstructure:"pricing"`
	Quality map[string]float64 `json:"quality" mapstructure:"quality"` // by complexity tier, in [0,1]
}

// QualityFor returns the model's quality score for a complexity tier,
// falling back to the highest configured score when the tier is absent.
func (m ModelConfig) QualityFor(tier string) float64 {
	if q, ok := m.Quality[tier]; ok {
		return q
	}
	best := 0.0
	for _, q := range m.Quality {
		if q > best {
			best = q
		}
	}
	return best
}

// ProviderConfig holds the static registration config for one provider.
type ProviderConfig struct {
	Class            Class         `json:"class" mapstructure:"class"`
	Models           []ModelConfig `json:"models" mapstructure:"models"`
	Capabilities     []Capability  `json:"capabilities" mapstructure:"capabilities"`
	BreakerThreshold int           `json:"breaker_threshold" mapstructure:"breaker_threshold"` // consecutive failures before opening, default 5
	BreakerCooldown  time.Duration `json:"breaker_cooldown" mapstructure:"breaker_cooldown"`   // open duration before half-open, default 30s
}

// HealthRecord is the mutable health state of one provider.
type HealthRecord struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastSuccess         time.Time    `json:"last_success,omitzero"`
	LastFailure         time.Time    `json:"last_failure,omitzero"`
	LastError           string       `json:"last_error,omitempty"`
}

// MetricsRecord is the rolling performance record of one provider.
type MetricsRecord struct {
	TotalCalls   int64   `json:"total_calls"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalCost    float64 `json:"total_cost"`
	TotalTokens  int64   `json:"total_tokens"`
}

// Outcome reports the result of one provider call back to the registry.
type Outcome struct {
	Success bool
	Latency time.Duration
	Tokens  int64
	Cost    float64
	Err     error
}

// Snapshot is an immutable view of one provider handed to the router.
type Snapshot struct {
	ID           string
	Class        Class
	Models       []ModelConfig
	Capabilities []Capability
	Status       HealthStatus
	AvgLatencyMs float64
	Index        int // registration order, used for deterministic tie-breaks
}

// HasCapability reports whether the snapshot carries a capability flag.
func (s Snapshot) HasCapability(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
