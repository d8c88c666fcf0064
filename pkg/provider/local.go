package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// LocalAdapter implements Adapter for a local OpenAI-compatible model
// server (ollama, llama.cpp, vLLM). Calls are free and never leave the
// machine, so the routing layer ranks local ahead of remote providers
// under the performance strategy.
type LocalAdapter struct {
	client  openai.Client
	baseURL string
}

// NewLocalAdapter creates an adapter for a local model server.
func NewLocalAdapter(baseURL string) *LocalAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &LocalAdapter{
		client:  openai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey("local")),
		baseURL: baseURL,
	}
}

// Name returns the provider name.
func (l *LocalAdapter) Name() string {
	return "local"
}

// Complete makes a completion call against the local server.
func (l *LocalAdapter) Complete(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	response, err := l.client.Chat.Completions.New(ctx, l.buildParams(request))
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(response.Usage.PromptTokens),
			CompletionTokens: int(response.Usage.CompletionTokens),
		},
		Cost: 0,
	}, nil
}

// CompleteStream makes a streaming completion call against the local server.
func (l *LocalAdapter) CompleteStream(ctx context.Context, request CompletionRequest, onChunk func(StreamChunk)) (*CompletionResponse, error) {
	stream := l.client.Chat.Completions.NewStreaming(ctx, l.buildParams(request))

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

	return &CompletionResponse{
		Content:      acc.Choices[0].Message.Content,
		FinishReason: normalizeFinishReason(acc.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
		},
		Cost: 0,
	}, nil
}

// ListModels returns the models loaded on the local server.
func (l *LocalAdapter) ListModels(ctx context.Context) ([]string, error) {
	page, err := l.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}

	models := []string{}
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// HealthCheck probes the local server's models endpoint directly.
func (l *LocalAdapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/models", nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (l *LocalAdapter) buildParams(request CompletionRequest) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}
	for _, msg := range request.Messages {
		switch msg.Role {
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
