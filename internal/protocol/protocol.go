// Package protocol defines the JSON frames exchanged over a chat channel.
// Every frame carries a `type` discriminator; the caller-supplied correlation
// id of the command that started a turn is echoed on every frame the turn
// produces.
package protocol

import "github.com/sashabaranov/go-openai"

// Inbound frame kinds.
const (
	FrameGenerate   = "generate"
	FrameCancel     = "cancel"
	FrameRegenerate = "regenerate"
)

// Outbound frame kinds.
const (
	FrameDelta    = "delta"
	FrameToolCall = "tool_call"
	FrameComplete = "complete"
	FrameTitle    = "title"
	FrameError    = "error"
)

// ClientFrame is a decoded inbound command. Fields beyond Type and ID are
// populated per frame kind; unknown kinds are ignored by the session.
type ClientFrame struct {
	Type           string        `json:"type"`
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Content        string        `json:"content,omitempty"`
	Model          string        `json:"model,omitempty"`
	Tools          []openai.Tool `json:"tools,omitempty"`
}

// Action is the tool invocation a completed turn asks the client to perform.
type Action struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ServerFrame is an encoded outbound event.
type ServerFrame struct {
	Type           string  `json:"type"`
	ID             string  `json:"id,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Content        string  `json:"content,omitempty"`
	Name           string  `json:"name,omitempty"`
	Arguments      string  `json:"arguments,omitempty"`
	Action         *Action `json:"action,omitempty"`
	Title          string  `json:"title,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// Delta builds an incremental-text frame.
func Delta(id, conversationID, content string) ServerFrame {
	return ServerFrame{Type: FrameDelta, ID: id, ConversationID: conversationID, Content: content}
}

// ToolCall builds the interim tool-invocation-in-progress frame. It is
// re-sent as arguments grow; receivers must overwrite, not append.
func ToolCall(id, conversationID, name, arguments string) ServerFrame {
	return ServerFrame{Type: FrameToolCall, ID: id, ConversationID: conversationID, Name: name, Arguments: arguments}
}

// Complete builds a turn-complete frame. Action is nil when the turn ended
// without a tool invocation.
func Complete(id, conversationID string, action *Action) ServerFrame {
	return ServerFrame{Type: FrameComplete, ID: id, ConversationID: conversationID, Action: action}
}

// TitleUpdated builds a title-updated frame.
func TitleUpdated(id, conversationID, title string) ServerFrame {
	return ServerFrame{Type: FrameTitle, ID: id, ConversationID: conversationID, Title: title}
}

// TurnError builds a turn-scoped error frame.
func TurnError(id, message string) ServerFrame {
	return ServerFrame{Type: FrameError, ID: id, Message: message}
}
