package session

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestConsumeStreamTextOrder(t *testing.T) {
	stream := &fakeStream{resps: []openai.ChatCompletionStreamResponse{
		textDelta("Hi"),
		textDelta(" there"),
		textDelta("!"),
	}}

	var seen []string
	out, err := consumeStream(context.Background(), stream,
		func(s string) { seen = append(seen, s) },
		func(string, string) { t.Fatal("unexpected tool progress") })
	require.NoError(t, err)
	require.False(t, out.Interrupted)
	require.Equal(t, "Hi there!", out.Text)
	require.Equal(t, []string{"Hi", " there", "!"}, seen)
	require.Empty(t, out.ToolCalls)
	require.True(t, stream.closed)
}

func TestConsumeStreamRepeatsToolProgress(t *testing.T) {
	stream := &fakeStream{resps: []openai.ChatCompletionStreamResponse{
		toolDelta(0, "call_1", "lookup", ""),
		toolDelta(0, "", "", `{"q":`),
		toolDelta(0, "", "", `"x"}`),
	}}

	type progress struct{ name, args string }
	var notices []progress
	out, err := consumeStream(context.Background(), stream,
		func(string) {},
		func(name, args string) { notices = append(notices, progress{name, args}) })
	require.NoError(t, err)

	// One notification per tool-bearing delta, arguments growing each time.
	require.Equal(t, []progress{
		{"lookup", ""},
		{"lookup", `{"q":`},
		{"lookup", `{"q":"x"}`},
	}, notices)

	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, "lookup", out.ToolCalls[0].Function.Name)
	require.Equal(t, `{"q":"x"}`, out.ToolCalls[0].Function.Arguments)
}

func TestConsumeStreamCancellationIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeStream{
		ctx:   ctx,
		resps: []openai.ChatCompletionStreamResponse{textDelta("Partial ")},
		block: true,
	}

	var got string
	done := make(chan struct{})
	var out streamOutcome
	var err error
	go func() {
		out, err = consumeStream(ctx, stream, func(s string) { got += s }, func(string, string) {})
		close(done)
	}()
	cancel()
	<-done

	require.NoError(t, err)
	require.True(t, out.Interrupted)
	require.Equal(t, "Partial ", out.Text)
	require.Equal(t, "Partial ", got)
}

func TestConsumeStreamProviderFaultIsFatal(t *testing.T) {
	boom := errors.New("upstream exploded")
	stream := &fakeStream{
		resps: []openai.ChatCompletionStreamResponse{textDelta("Hi")},
		err:   boom,
	}

	_, err := consumeStream(context.Background(), stream, func(string) {}, func(string, string) {})
	require.ErrorIs(t, err, boom)
}

func TestConsumeStreamDropsIndexlessFragment(t *testing.T) {
	noIndex := openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
				ID:       "call_x",
				Function: openai.FunctionCall{Name: "orphan", Arguments: "{}"},
			}}},
		}},
	}
	stream := &fakeStream{resps: []openai.ChatCompletionStreamResponse{noIndex}}

	notified := 0
	out, err := consumeStream(context.Background(), stream, func(string) {}, func(string, string) { notified++ })
	require.NoError(t, err)
	require.Empty(t, out.ToolCalls)
	require.Zero(t, notified)
}

func TestConsumeStreamMixedTextAndTools(t *testing.T) {
	stream := &fakeStream{resps: []openai.ChatCompletionStreamResponse{
		textDelta("Let me check. "),
		toolDelta(0, "call_1", "lookup", `{"q":"x"}`),
		textDelta("Done."),
	}}

	notices := 0
	out, err := consumeStream(context.Background(), stream, func(string) {}, func(string, string) { notices++ })
	require.NoError(t, err)
	require.Equal(t, "Let me check. Done.", out.Text)
	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, 1, notices)
}
