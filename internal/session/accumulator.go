package session

import (
	"slices"

	"github.com/sashabaranov/go-openai"
)

// toolCallAccumulator assembles complete tool invocations from the partial
// fragments a completion stream delivers, keyed by the fragment's call index.
// Identifier, kind and name fill in monotonically (a later non-empty value
// wins, an empty one never clears); argument text is appended verbatim in
// arrival order.
type toolCallAccumulator struct {
	calls map[int]*openai.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*openai.ToolCall)}
}

// Merge folds one fragment into the entry at index, creating it on first
// sight. Fragments without an index are rejected by the caller before they
// get here.
func (a *toolCallAccumulator) Merge(index int, frag openai.ToolCall) {
	entry, ok := a.calls[index]
	if !ok {
		entry = &openai.ToolCall{}
		a.calls[index] = entry
	}
	if frag.ID != "" {
		entry.ID = frag.ID
	}
	if frag.Type != "" {
		entry.Type = frag.Type
	}
	if frag.Function.Name != "" {
		entry.Function.Name = frag.Function.Name
	}
	entry.Function.Arguments += frag.Function.Arguments
}

// Len reports how many entries have been started.
func (a *toolCallAccumulator) Len() int {
	return len(a.calls)
}

// First returns the entry with the lowest index, if any.
func (a *toolCallAccumulator) First() (openai.ToolCall, bool) {
	if len(a.calls) == 0 {
		return openai.ToolCall{}, false
	}
	min := -1
	for i := range a.calls {
		if min == -1 || i < min {
			min = i
		}
	}
	return *a.calls[min], true
}

// Finalize returns the accumulated entries in ascending index order.
func (a *toolCallAccumulator) Finalize() []openai.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	out := make([]openai.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}
