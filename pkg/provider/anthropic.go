package provider

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements Adapter for Anthropic Claude.
type AnthropicAdapter struct {
	client  anthropic.Client
	pricing map[string]Pricing
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(apiKey string, pricing map[string]Pricing) *AnthropicAdapter {
	return &AnthropicAdapter{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		pricing: pricing,
	}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Complete makes an API call to Anthropic Claude.
func (a *AnthropicAdapter) Complete(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	response, err := a.client.Messages.New(ctx, a.buildParams(request))
	if err != nil {
		return nil, err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	usage := Usage{
		PromptTokens:     int(response.Usage.InputTokens),
		CompletionTokens: int(response.Usage.OutputTokens),
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: normalizeFinishReason(string(response.StopReason)),
		Usage:        usage,
		Cost:         a.pricing[request.Model].Cost(usage),
	}, nil
}

// CompleteStream makes a streaming API call to Anthropic Claude.
func (a *AnthropicAdapter) CompleteStream(ctx context.Context, request CompletionRequest, onChunk func(StreamChunk)) (*CompletionResponse, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(request))

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, err
		}

		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if ev.Delta.Text != "" && onChunk != nil {
				onChunk(StreamChunk{Delta: ev.Delta.Text})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	content := ""
	for _, block := range message.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	usage := Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: normalizeFinishReason(string(message.StopReason)),
		Usage:        usage,
		Cost:         a.pricing[request.Model].Cost(usage),
	}, nil
}

// ListModels returns the models available from Anthropic.
func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]string, error) {
	page, err := a.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, err
	}

	models := []string{}
	for _, m := range page.Data {
		models = append(models, string(m.ID))
	}
	return models, nil
}

// HealthCheck reports whether the Anthropic API is reachable.
func (a *AnthropicAdapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.ListModels(ctx)
	return err == nil
}

// buildParams converts a CompletionRequest to Anthropic message parameters.
func (a *AnthropicAdapter) buildParams(request CompletionRequest) anthropic.MessageNewParams {
	messages := []anthropic.MessageParam{}
	for _, msg := range request.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	return params
}

// normalizeFinishReason maps provider-specific stop reasons to a common set.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "stop":
		return "stop"
	case "max_tokens", "length":
		return "length"
	default:
		return reason
	}
}
