package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values beyond the structural checks
// in Config.Validate
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, kind string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", kind)
	}

	switch kind {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateStrategy validates a routing strategy name
func (v *Validator) ValidateStrategy(strategy string) error {
	if strategy == "" {
		return nil // Use default
	}

	validStrategies := []string{"cost", "performance", "quality", "balanced"}
	for _, valid := range validStrategies {
		if strategy == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid routing strategy: %s (must be one of: %s)", strategy, strings.Join(validStrategies, ", "))
}

// ValidateQualityScore validates a per-tier quality rating
func (v *Validator) ValidateQualityScore(score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("quality score must be between 0 and 1, got %f", score)
	}
	return nil
}

// ValidateParallelism validates the executor's parallelism limit
func (v *Validator) ValidateParallelism(n int) error {
	if n <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", n)
	}
	if n > 64 {
		return fmt.Errorf("parallelism too large (max 64), got %d", n)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if p.Kind != "" && p.Kind != "local" {
			if err := v.ValidateAPIKey(p.APIKey, p.Kind); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
		if p.BreakerThreshold < 0 {
			errors = append(errors, fmt.Errorf("provider %s: breaker_threshold must be >= 0", p.ID))
		}
		if p.BreakerCooldownSeconds < 0 {
			errors = append(errors, fmt.Errorf("provider %s: breaker_cooldown_seconds must be >= 0", p.ID))
		}
		for _, m := range p.Models {
			for tier, score := range m.Quality {
				if err := v.ValidateQualityScore(score); err != nil {
					errors = append(errors, fmt.Errorf("provider %s: model %s: tier %s: %w", p.ID, m.Name, tier, err))
				}
			}
			if m.InputCostPerToken < 0 || m.OutputCostPerToken < 0 {
				errors = append(errors, fmt.Errorf("provider %s: model %s: pricing must be >= 0", p.ID, m.Name))
			}
		}
	}

	if err := v.ValidateStrategy(cfg.Routing.Strategy); err != nil {
		errors = append(errors, err)
	}
	if cfg.Routing.BudgetLimitUSD < 0 {
		errors = append(errors, fmt.Errorf("routing budget_limit_usd must be >= 0"))
	}

	if cfg.Executor.Parallelism != 0 {
		if err := v.ValidateParallelism(cfg.Executor.Parallelism); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Executor.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("executor max_retries must be >= 0"))
	}
	if cfg.Executor.CallTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("executor call_timeout_seconds must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
