package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/parleybot/parley/internal/logger"
	"github.com/parleybot/parley/internal/protocol"
)

const titlePrompt = "Generate a concise title (max 8 words) for the conversation so far. " +
	`Respond with a JSON object of the form {"title": "..."} and nothing else.`

// deriveTitle asks the title model for a short conversation title and, when
// one comes back well-formed, stores it and announces it on the channel.
// Best effort: every failure is logged and dropped, nothing is retried, and
// a title that is already set is never overwritten.
func (s *Session) deriveTitle(ctx context.Context, conversationID, correlationID string, history []openai.ChatCompletionMessage) {
	msgs := append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: titlePrompt,
	})

	resp, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.cfg.TitleModel,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		logger.L.Warn("title derivation failed", "conversation", conversationID, "error", err)
		return
	}
	if len(resp.Choices) == 0 {
		logger.L.Warn("title derivation returned no choices", "conversation", conversationID)
		return
	}

	var out struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		logger.L.Warn("title derivation returned malformed output", "conversation", conversationID, "error", err)
		return
	}
	title := strings.TrimSpace(out.Title)
	if title == "" {
		logger.L.Warn("title derivation returned an empty title", "conversation", conversationID)
		return
	}

	applied, err := s.store.UpdateConversationTitle(ctx, conversationID, title)
	if err != nil {
		logger.L.Warn("storing derived title failed", "conversation", conversationID, "error", err)
		return
	}
	if !applied {
		logger.L.Debug("conversation already titled", "conversation", conversationID)
		return
	}
	s.emit(protocol.TitleUpdated(correlationID, conversationID, title))
}
