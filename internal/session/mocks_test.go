package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/protocol"
)

// fakeStream replays scripted deltas. With block set it hangs after the
// scripted deltas until the stream's context is canceled, mimicking a
// provider that keeps the connection open.
type fakeStream struct {
	ctx    context.Context
	resps  []openai.ChatCompletionStreamResponse
	err    error // returned after the scripted deltas; defaults to io.EOF
	block  bool
	closed bool
}

func (f *fakeStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(f.resps) > 0 {
		r := f.resps[0]
		f.resps = f.resps[1:]
		return r, nil
	}
	if f.block {
		<-f.ctx.Done()
		return openai.ChatCompletionStreamResponse{}, f.ctx.Err()
	}
	if f.err != nil {
		return openai.ChatCompletionStreamResponse{}, f.err
	}
	return openai.ChatCompletionStreamResponse{}, io.EOF
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func textDelta(s string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: s},
		}},
	}
}

func textDeltas(parts ...string) []openai.ChatCompletionStreamResponse {
	out := make([]openai.ChatCompletionStreamResponse, 0, len(parts))
	for _, p := range parts {
		out = append(out, textDelta(p))
	}
	return out
}

func toolDelta(index int, id, name, args string) openai.ChatCompletionStreamResponse {
	tc := openai.ToolCall{
		Index:    &index,
		ID:       id,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
	if id != "" || name != "" {
		tc.Type = openai.ToolTypeFunction
	}
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{tc}},
		}},
	}
}

// mockLLM hands out scripted streams in order and answers title extraction
// calls with a canned body. Mirrors llm.Client.
type mockLLM struct {
	mu         sync.Mutex
	streams    []*fakeStream
	streamErr  error
	calls      int
	lastReq    openai.ChatCompletionRequest
	titleBody  string
	titleErr   error
	titleCalls int
}

func (m *mockLLM) StreamCompletion(ctx context.Context, req openai.ChatCompletionRequest) (llm.CompletionStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	if len(m.streams) == 0 {
		return nil, errors.New("mockLLM: no scripted stream")
	}
	s := m.streams[0]
	m.streams = m.streams[1:]
	s.ctx = ctx
	return s, nil
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titleCalls++
	if m.titleErr != nil {
		return openai.ChatCompletionResponse{}, m.titleErr
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: m.titleBody},
		}},
	}, nil
}

func (m *mockLLM) streamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSender records every outbound frame.
type mockSender struct {
	mu     sync.Mutex
	frames []protocol.ServerFrame
	err    error
}

func (s *mockSender) Send(f protocol.ServerFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return s.err
}

func (s *mockSender) byType(kind string) []protocol.ServerFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.ServerFrame
	for _, f := range s.frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}
