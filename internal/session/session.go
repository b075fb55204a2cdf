// Package session owns the generation lifecycle of one conversation
// channel: it dispatches generate/cancel/regenerate commands, drives the
// single in-flight provider call, merges streamed output into durable
// history and emits the outbound protocol frames.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/logger"
	"github.com/parleybot/parley/internal/protocol"
	"github.com/parleybot/parley/internal/store"
)

// Lifecycle states. At most one provider call is outstanding; starting a
// new generation while one is live cancels the previous one and re-enters
// the active state.
const (
	stateIdle         = "Idle"
	stateGenerating   = "Generating"
	stateRegenerating = "Regenerating"
)

const (
	triggerGenerate    = "Generate"
	triggerRegenerate  = "Regenerate"
	triggerStreamEnded = "StreamEnded"
)

// Validation failures reported to the channel as turn-scoped errors.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNothingToRegenerate  = errors.New("nothing to regenerate: the conversation needs a prior assistant reply")
)

// Sender delivers outbound frames to the channel. Delivery is best effort;
// failures are logged and swallowed.
type Sender interface {
	Send(frame protocol.ServerFrame) error
}

// ToolSource supplies server-configured tool definitions merged with the
// ones a command carries.
type ToolSource interface {
	Merge(client []openai.Tool) []openai.Tool
}

// Session is the state machine behind one chat channel. Exactly one channel
// owns one session; the channel handler tears it down by canceling the
// context it passes to Handle.
type Session struct {
	store   *store.Store
	llm     llm.Client
	tools   ToolSource
	send    Sender
	ownerID string
	cfg     config.LLMConfig

	fsm *stateless.StateMachine

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
}

// New creates the session for one channel.
func New(st *store.Store, client llm.Client, toolSource ToolSource, cfg config.LLMConfig, ownerID string, send Sender) *Session {
	s := &Session{
		store:   st,
		llm:     client,
		tools:   toolSource,
		send:    send,
		ownerID: ownerID,
		cfg:     cfg,
	}

	fsm := stateless.NewStateMachine(stateIdle)
	fsm.Configure(stateIdle).
		Permit(triggerGenerate, stateGenerating).
		Permit(triggerRegenerate, stateRegenerating)
	fsm.Configure(stateGenerating).
		PermitReentry(triggerGenerate).
		Permit(triggerRegenerate, stateRegenerating).
		Permit(triggerStreamEnded, stateIdle)
	fsm.Configure(stateRegenerating).
		PermitReentry(triggerRegenerate).
		Permit(triggerGenerate, stateGenerating).
		Permit(triggerStreamEnded, stateIdle)
	s.fsm = fsm

	return s
}

// Handle dispatches one inbound frame. Commands validate synchronously; the
// provider call itself runs on its own goroutine so cancel frames are still
// processed while a generation is live. Unknown frame kinds are ignored.
func (s *Session) Handle(ctx context.Context, f protocol.ClientFrame) {
	switch f.Type {
	case protocol.FrameGenerate:
		s.handleGenerate(ctx, f)
	case protocol.FrameCancel:
		s.handleCancel()
	case protocol.FrameRegenerate:
		s.handleRegenerate(ctx, f)
	default:
		logger.L.Debug("ignoring unknown frame kind", "type", f.Type)
	}
}

// Close cancels any in-flight generation.
func (s *Session) Close() {
	s.handleCancel()
}

func (s *Session) handleGenerate(ctx context.Context, f protocol.ClientFrame) {
	conv, err := s.store.GetConversation(ctx, f.ConversationID)
	if err != nil {
		s.turnError(f.ID, err)
		return
	}
	if conv == nil {
		s.turnError(f.ID, ErrConversationNotFound)
		return
	}

	// The user turn is durable before any provider call is issued.
	if _, err := s.store.AppendMessage(ctx, conv.ID, s.ownerID, store.RoleUser, f.Content); err != nil {
		s.turnError(f.ID, err)
		return
	}
	msgs, err := s.history(ctx, conv.ID)
	if err != nil {
		s.turnError(f.ID, err)
		return
	}

	genCtx, seq := s.begin(ctx, triggerGenerate)
	go s.generate(genCtx, seq, *conv, f, msgs)
}

func (s *Session) handleRegenerate(ctx context.Context, f protocol.ClientFrame) {
	conv, err := s.store.GetConversation(ctx, f.ConversationID)
	if err != nil {
		s.turnError(f.ID, err)
		return
	}
	if conv == nil {
		s.turnError(f.ID, ErrConversationNotFound)
		return
	}

	stored, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		s.turnError(f.ID, err)
		return
	}
	if len(stored) < 2 || stored[len(stored)-1].Role != store.RoleAssistant {
		s.turnError(f.ID, ErrNothingToRegenerate)
		return
	}

	// The last assistant turn leaves the working history but its id is
	// retained: the new text overwrites it in place on success.
	retained := stored[len(stored)-1]
	msgs := toChatMessages(stored[:len(stored)-1])

	genCtx, seq := s.begin(ctx, triggerRegenerate)
	go s.regenerate(genCtx, seq, *conv, f, msgs, retained.ID)
}

// handleCancel signals the live generation, if any. The session leaves the
// active state only once the consumer observes the signal and its task
// reports completion.
func (s *Session) handleCancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// begin replaces the current cancellation handle with a fresh one, canceling
// the prior task first, and records the transition. The replaced task still
// runs to its own terminal state; the sequence number keeps its completion
// from being mistaken for the current one.
func (s *Session) begin(ctx context.Context, trigger string) (context.Context, uint64) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	genCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if err := s.fsm.Fire(trigger); err != nil {
		logger.L.Warn("state transition rejected", "trigger", trigger, "error", err)
	}
	return genCtx, seq
}

// finish records stream end for the task identified by seq. Completions of
// replaced tasks are ignored.
func (s *Session) finish(seq uint64) {
	s.mu.Lock()
	current := seq == s.seq
	if current && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if current {
		if err := s.fsm.Fire(triggerStreamEnded); err != nil {
			logger.L.Warn("state transition rejected", "trigger", triggerStreamEnded, "error", err)
		}
	}
}

// generate runs one create-generation to completion. A canceled generation
// is not discarded: the partial text persists as the assistant turn and the
// turn still completes.
func (s *Session) generate(ctx context.Context, seq uint64, conv store.Conversation, f protocol.ClientFrame, msgs []openai.ChatCompletionMessage) {
	defer s.finish(seq)

	outcome, err := s.stream(ctx, f, msgs)
	if err != nil {
		logger.L.Error("generation failed", "conversation", conv.ID, "error", err)
		s.turnError(f.ID, err)
		return
	}

	// Persistence must survive the canceled generation context.
	bg := context.WithoutCancel(ctx)
	if _, err := s.store.AppendMessage(bg, conv.ID, s.ownerID, store.RoleAssistant, outcome.Text); err != nil {
		logger.L.Error("persisting assistant turn failed", "conversation", conv.ID, "error", err)
		s.turnError(f.ID, err)
		return
	}
	if err := s.store.TouchConversation(bg, conv.ID); err != nil {
		logger.L.Warn("touch conversation failed", "conversation", conv.ID, "error", err)
	}

	var action *protocol.Action
	if len(outcome.ToolCalls) > 0 {
		first := outcome.ToolCalls[0]
		action = &protocol.Action{Name: first.Function.Name, Arguments: first.Function.Arguments}
	}
	// The assistant turn is durable before the completion event goes out.
	s.emit(protocol.Complete(f.ID, conv.ID, action))

	if conv.Title == nil {
		history := append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: outcome.Text,
		})
		go s.deriveTitle(bg, conv.ID, f.ID, history)
	}
}

// regenerate runs one regeneration. A canceled regeneration persists
// nothing and emits no completion: the previous assistant reply stands.
func (s *Session) regenerate(ctx context.Context, seq uint64, conv store.Conversation, f protocol.ClientFrame, msgs []openai.ChatCompletionMessage, retainedID string) {
	defer s.finish(seq)

	outcome, err := s.stream(ctx, f, msgs)
	if err != nil {
		logger.L.Error("regeneration failed", "conversation", conv.ID, "error", err)
		s.turnError(f.ID, err)
		return
	}
	if outcome.Interrupted {
		logger.L.Info("regeneration canceled; previous reply kept", "conversation", conv.ID)
		return
	}

	bg := context.WithoutCancel(ctx)
	if err := s.store.UpdateMessageContent(bg, retainedID, outcome.Text); err != nil {
		logger.L.Error("overwriting assistant turn failed", "message", retainedID, "error", err)
		s.turnError(f.ID, err)
		return
	}
	if err := s.store.TouchConversation(bg, conv.ID); err != nil {
		logger.L.Warn("touch conversation failed", "conversation", conv.ID, "error", err)
	}
	// Regeneration never carries an action and never re-derives a title.
	s.emit(protocol.Complete(f.ID, conv.ID, nil))
}

// stream issues the provider call and drains it, emitting incremental
// frames as output arrives. Cancellation before the first delta is treated
// the same as cancellation mid-stream.
func (s *Session) stream(ctx context.Context, f protocol.ClientFrame, msgs []openai.ChatCompletionMessage) (streamOutcome, error) {
	model := f.Model
	if model == "" {
		model = s.cfg.Model
	}
	toolDefs := f.Tools
	if s.tools != nil {
		toolDefs = s.tools.Merge(f.Tools)
	}

	st, err := s.llm.StreamCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Tools:    toolDefs,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return streamOutcome{Interrupted: true}, nil
		}
		return streamOutcome{}, err
	}

	return consumeStream(ctx, st,
		func(text string) {
			s.emit(protocol.Delta(f.ID, f.ConversationID, text))
		},
		func(name, arguments string) {
			s.emit(protocol.ToolCall(f.ID, f.ConversationID, name, arguments))
		})
}

func (s *Session) history(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error) {
	stored, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return toChatMessages(stored), nil
}

func toChatMessages(stored []store.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(stored))
	for _, m := range stored {
		role := openai.ChatMessageRoleUser
		if m.Role == store.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (s *Session) turnError(correlationID string, err error) {
	s.emit(protocol.TurnError(correlationID, err.Error()))
}

func (s *Session) emit(f protocol.ServerFrame) {
	if err := s.send.Send(f); err != nil {
		logger.L.Warn("outbound frame dropped", "type", f.Type, "error", err)
	}
}
