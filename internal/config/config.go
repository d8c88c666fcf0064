package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Maestro configuration
type Config struct {
	// Providers
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Routing
	Routing RoutingConfig `json:"routing" mapstructure:"routing"`

	// Executor
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// Fusion
	Fusion FusionConfig `json:"fusion" mapstructure:"fusion"`

	// Health probing
	Probe ProbeConfig `json:"probe" mapstructure:"probe"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderProfile represents one configured provider backend
type ProviderProfile struct {
	ID                     string         `json:"id" mapstructure:"id"`
	Kind                   string         `json:"kind" mapstructure:"kind"`   // anthropic, openai, local
	Class                  string         `json:"class" mapstructure:"class"` // local, remote
	APIKey                 string         `json:"api_key" mapstructure:"api_key"`
	BaseURL                string         `json:"base_url" mapstructure:"base_url"`
	Models                 []ModelProfile `json:"models" mapstructure:"models"`
	Capabilities           []string       `json:"capabilities,omitempty" mapstructure:"capabilities"` // chat, streaming, tools; empty means all
	BreakerThreshold       int            `json:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds int            `json:"breaker_cooldown_seconds" mapstructure:"breaker_cooldown_seconds"`
}

// ModelProfile holds per-model pricing and quality ratings
type ModelProfile struct {
	Name               string             `json:"name" mapstructure:"name"`
	InputCostPerToken  float64            `json:"input_cost_per_token" mapstructure:"input_cost_per_token"`
	OutputCostPerToken float64            `json:"output_cost_per_token" mapstructure:"output_cost_per_token"`
	Quality            map[string]float64 `json:"quality" mapstructure:"quality"` // tier -> score in [0,1]
}

// RoutingConfig holds routing engine configuration
type RoutingConfig struct {
	Strategy       string  `json:"strategy" mapstructure:"strategy"` // cost, performance, quality, balanced
	BudgetLimitUSD float64 `json:"budget_limit_usd" mapstructure:"budget_limit_usd"`
}

// ExecutorConfig holds execution engine configuration
type ExecutorConfig struct {
	Parallelism        int `json:"parallelism" mapstructure:"parallelism"`
	MaxRetries         int `json:"max_retries" mapstructure:"max_retries"`
	CallTimeoutSeconds int `json:"call_timeout_seconds" mapstructure:"call_timeout_seconds"`
}

// FusionConfig holds response fusion configuration
type FusionConfig struct {
	MinAgreement float64 `json:"min_agreement" mapstructure:"min_agreement"`
	MaxProviders int     `json:"max_providers" mapstructure:"max_providers"`
}

// ProbeConfig holds health probe configuration
type ProbeConfig struct {
	Schedule       string `json:"schedule" mapstructure:"schedule"` // cron spec
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// GatewayConfig holds the event gateway server configuration
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderProfile{},
		Routing: RoutingConfig{
			Strategy: "balanced",
		},
		Executor: ExecutorConfig{
			Parallelism:        4,
			MaxRetries:         2,
			CallTimeoutSeconds: 60,
		},
		Fusion: FusionConfig{
			MinAgreement: 0.66,
			MaxProviders: 3,
		},
		Probe: ProbeConfig{
			Schedule:       "@every 30s",
			TimeoutSeconds: 5,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider profile is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: ID is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %s: duplicate ID", p.ID)
		}
		seen[p.ID] = true

		switch p.Kind {
		case "anthropic", "openai", "local":
		default:
			return fmt.Errorf("provider %s: invalid kind %s (must be: anthropic, openai, local)", p.ID, p.Kind)
		}
		if p.Kind != "local" && p.APIKey == "" {
			return fmt.Errorf("provider %s: api_key is required", p.ID)
		}
		if p.Class != "" && p.Class != "local" && p.Class != "remote" {
			return fmt.Errorf("provider %s: invalid class %s (must be: local, remote)", p.ID, p.Class)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s: at least one model is required", p.ID)
		}
		for j, m := range p.Models {
			if m.Name == "" {
				return fmt.Errorf("provider %s: model %d: name is required", p.ID, j)
			}
		}
		for _, capability := range p.Capabilities {
			switch capability {
			case "chat", "streaming", "tools":
			default:
				return fmt.Errorf("provider %s: invalid capability %s (must be: chat, streaming, tools)", p.ID, capability)
			}
		}
	}

	switch c.Routing.Strategy {
	case "", "cost", "performance", "quality", "balanced":
	default:
		return fmt.Errorf("invalid routing strategy: %s", c.Routing.Strategy)
	}

	if c.Fusion.MinAgreement < 0 || c.Fusion.MinAgreement > 1 {
		return fmt.Errorf("fusion min_agreement must be in [0,1], got %f", c.Fusion.MinAgreement)
	}

	return nil
}
