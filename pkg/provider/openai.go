package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements Adapter for OpenAI.
type OpenAIAdapter struct {
	client  openai.Client
	pricing map[string]Pricing
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey string, pricing map[string]Pricing) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		pricing: pricing,
	}
}

// Name returns the provider name.
func (o *OpenAIAdapter) Name() string {
	return "openai"
}

// Complete makes an API call to OpenAI.
func (o *OpenAIAdapter) Complete(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	response, err := o.client.Chat.Completions.New(ctx, o.buildParams(request))
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	usage := Usage{
		PromptTokens:     int(response.Usage.PromptTokens),
		CompletionTokens: int(response.Usage.CompletionTokens),
	}

	return &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage:        usage,
		Cost:         o.pricing[request.Model].Cost(usage),
	}, nil
}

// CompleteStream makes a streaming API call to OpenAI.
func (o *OpenAIAdapter) CompleteStream(ctx context.Context, request CompletionRequest, onChunk func(StreamChunk)) (*CompletionResponse, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(request))

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" && onChunk != nil {
			onChunk(StreamChunk{Delta: chunk.Choices[0].Delta.Content})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	usage := Usage{
		PromptTokens:     int(acc.Usage.PromptTokens),
		CompletionTokens: int(acc.Usage.CompletionTokens),
	}

	return &CompletionResponse{
		Content:      acc.Choices[0].Message.Content,
		FinishReason: normalizeFinishReason(acc.Choices[0].FinishReason),
		Usage:        usage,
		Cost:         o.pricing[request.Model].Cost(usage),
	}, nil
}

// ListModels returns the models available from OpenAI.
func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	page, err := o.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}

	models := []string{}
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// HealthCheck reports whether the OpenAI API is reachable.
func (o *OpenAIAdapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := o.ListModels(ctx)
	return err == nil
}

// buildParams converts a CompletionRequest to OpenAI chat parameters.
func (o *OpenAIAdapter) buildParams(request CompletionRequest) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case "system":
			// Handled above
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	return params
}
