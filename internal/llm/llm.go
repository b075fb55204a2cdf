package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/parleybot/parley/internal/config"
)

// OpenAI adapts the go-openai client to the Client interface.
type OpenAI struct {
	api *openai.Client
}

// New creates a provider client against the configured base URL.
func New(cfg config.LLMConfig) *OpenAI {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return &OpenAI{api: openai.NewClientWithConfig(c)}
}

// StreamCompletion starts a streaming completion call.
func (o *OpenAI) StreamCompletion(ctx context.Context, req openai.ChatCompletionRequest) (CompletionStream, error) {
	return o.api.CreateChatCompletionStream(ctx, req)
}

// CreateChatCompletion runs a one-shot completion call.
func (o *OpenAI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return o.api.CreateChatCompletion(ctx, req)
}
