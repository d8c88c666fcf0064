package provider

import "strings"

// Message represents a single message in a completion conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest contains the parameters for one completion call.
type CompletionRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
}

// Usage tracks token consumption of one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResponse contains the result of one completion call.
type CompletionResponse struct {
	Content      string  `json:"content"`
	FinishReason string  `json:"finish_reason"`
	Usage        Usage   `json:"usage"`
	Cost         float64 `json:"cost"`
	// Confidence is provider-reported confidence metadata, 0 when absent.
	Confidence float64 `json:"confidence,omitempty"`
}

// StreamChunk represents an incremental slice of streamed output.
type StreamChunk struct {
	Delta string `json:"delta"`
}

// Pricing holds per-token prices in USD for one model.
type Pricing struct {
	InputPerToken  float64 `json:"input_per_token"`
	OutputPerToken float64 `json:"output_per_token"`
}

// Cost computes the dollar cost of a call under this pricing.
func (p Pricing) Cost(usage Usage) float64 {
	return float64(usage.PromptTokens)*p.InputPerToken + float64(usage.CompletionTokens)*p.OutputPerToken
}

// EstimateTokens provides a rough token count estimation.
// Rough estimation: 1 token is about 4 characters.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// IsRetryableError checks if an error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "ECONNRESET") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}

	return false
}
