package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// CompletionStream is the lazy, finite, non-restartable delta sequence
// produced by one provider call. Recv returns io.EOF when the sequence ends.
// *openai.ChatCompletionStream satisfies it.
type CompletionStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// StreamClient starts streaming completions. It is the minimal surface the
// session needs and is easy to mock in tests.
type StreamClient interface {
	StreamCompletion(ctx context.Context, req openai.ChatCompletionRequest) (CompletionStream, error)
}

// ExtractionClient runs one-shot structured completions; the title deriver
// uses it with a JSON-object response format.
type ExtractionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is the full provider surface consumed by a conversation session.
type Client interface {
	StreamClient
	ExtractionClient
}
