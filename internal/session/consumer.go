package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/logger"
)

// streamOutcome is what one provider call produced. Interrupted marks a
// cancellation observed mid-stream; Text and ToolCalls then hold whatever
// had accumulated up to that point.
type streamOutcome struct {
	Text        string
	ToolCalls   []openai.ToolCall
	Interrupted bool
}

// consumeStream drains a completion stream, forwarding text fragments
// through onText as they arrive and folding tool-call fragments into an
// accumulator. After every delta that carried at least one tool-call
// fragment it calls onToolProgress with the first entry's name and its
// argument text so far; receivers see the arguments grow and must treat
// each notification as a replacement for the last.
//
// Cancellation is not an error: the outcome is returned with Interrupted
// set. Any other stream fault is fatal for the turn.
func consumeStream(ctx context.Context, stream llm.CompletionStream, onText func(string), onToolProgress func(name, arguments string)) (streamOutcome, error) {
	defer stream.Close()

	acc := newToolCallAccumulator()
	var text strings.Builder

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return streamOutcome{Text: text.String(), ToolCalls: acc.Finalize(), Interrupted: true}, nil
			}
			return streamOutcome{}, fmt.Errorf("completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			onText(delta.Content)
		}

		sawToolFragment := false
		for _, tc := range delta.ToolCalls {
			if tc.Index == nil {
				logger.L.Warn("dropping tool call fragment without index", "id", tc.ID)
				continue
			}
			acc.Merge(*tc.Index, tc)
			sawToolFragment = true
		}
		if sawToolFragment {
			if first, ok := acc.First(); ok {
				onToolProgress(first.Function.Name, first.Function.Arguments)
			}
		}
	}

	return streamOutcome{Text: text.String(), ToolCalls: acc.Finalize()}, nil
}
