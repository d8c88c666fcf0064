package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Maestro Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Println("Providers (at least one is required):")
	fmt.Println()

	// Anthropic
	for {
		fmt.Print("Anthropic API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key, "anthropic"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Providers = append(cfg.Providers, ProviderProfile{
			ID:     "anthropic",
			Kind:   "anthropic",
			Class:  "remote",
			APIKey: key,
			Models: []ModelProfile{
				{
					Name:               "claude-sonnet-4-20250514",
					InputCostPerToken:  0.000003,
					OutputCostPerToken: 0.000015,
					Quality:            map[string]float64{"simple": 0.9, "medium": 0.92, "complex": 0.95},
				},
			},
		})
		break
	}

	// OpenAI
	for {
		fmt.Print("OpenAI API Key (press Enter to skip): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key, "openai"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Providers = append(cfg.Providers, ProviderProfile{
			ID:     "openai",
			Kind:   "openai",
			Class:  "remote",
			APIKey: key,
			Models: []ModelProfile{
				{
					Name:               "gpt-4o",
					InputCostPerToken:  0.0000025,
					OutputCostPerToken: 0.00001,
					Quality:            map[string]float64{"simple": 0.88, "medium": 0.9, "complex": 0.92},
				},
			},
		})
		break
	}

	// Local model server
	fmt.Print("Local model server URL (press Enter to skip): ")
	baseURL, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		fmt.Print("Local model name [llama3]: ")
		model, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if model == "" {
			model = "llama3"
		}

		cfg.Providers = append(cfg.Providers, ProviderProfile{
			ID:      "local",
			Kind:    "local",
			Class:   "local",
			BaseURL: baseURL,
			Models: []ModelProfile{
				{
					Name:    model,
					Quality: map[string]float64{"simple": 0.7, "medium": 0.6, "complex": 0.5},
				},
			},
		})
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	fmt.Println()

	// Routing strategy
	fmt.Println("Routing strategy options:")
	fmt.Println("  cost        - cheapest capable model")
	fmt.Println("  performance - lowest latency, local first")
	fmt.Println("  quality     - highest rated model for the tier")
	fmt.Println("  balanced    - weighted blend of all three (default)")
	fmt.Print("Strategy [balanced]: ")
	strategy, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if strategy != "" {
		if err := validator.ValidateStrategy(strategy); err != nil {
			fmt.Printf("Warning: %v, using default (balanced)\n", err)
		} else {
			cfg.Routing.Strategy = strategy
		}
	}

	fmt.Println()

	// Log level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
