package provider

import (
	"context"
	"fmt"
)

// Adapter is the uniform interface every backend provider implements.
// The engine never assumes a specific wire protocol; adapters translate
// to and from backend-specific APIs.
type Adapter interface {
	// Complete makes a single completion call.
	Complete(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)

	// CompleteStream makes a completion call delivering incremental output
	// through onChunk before returning the final response.
	CompleteStream(ctx context.Context, request CompletionRequest, onChunk func(StreamChunk)) (*CompletionResponse, error)

	// ListModels returns the models this provider can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) bool

	// Name returns the provider name.
	Name() string
}

// Factory creates adapters from credential profiles.
type Factory struct{}

// NewAdapter creates a new adapter based on a credential profile.
func (f *Factory) NewAdapter(profile Profile) (Adapter, error) {
	switch profile.Kind {
	case "anthropic":
		return NewAnthropicAdapter(profile.APIKey, profile.Pricing), nil
	case "openai":
		return NewOpenAIAdapter(profile.APIKey, profile.Pricing), nil
	case "local":
		return NewLocalAdapter(profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", profile.Kind)
	}
}

// Profile holds the credentials and pricing needed to construct one adapter.
type Profile struct {
	ID      string             `json:"id"`
	Kind    string             `json:"kind"` // "anthropic", "openai", "local"
	APIKey  string             `json:"api_key,omitempty"`
	BaseURL string             `json:"base_url,omitempty"`
	Pricing map[string]Pricing `json:"pricing,omitempty"` // by model
}
