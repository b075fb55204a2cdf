package session

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func frag(id, name, args string) openai.ToolCall {
	tc := openai.ToolCall{ID: id, Function: openai.FunctionCall{Name: name, Arguments: args}}
	if id != "" || name != "" {
		tc.Type = openai.ToolTypeFunction
	}
	return tc
}

func TestAccumulatorAssemblesSplitArguments(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Merge(0, frag("call_1", "lookup", ""))
	acc.Merge(0, frag("", "", `{"q":`))
	acc.Merge(0, frag("", "", `"x"}`))

	out := acc.Finalize()
	require.Len(t, out, 1)
	require.Equal(t, "call_1", out[0].ID)
	require.Equal(t, "lookup", out[0].Function.Name)
	require.Equal(t, `{"q":"x"}`, out[0].Function.Arguments)
}

func TestAccumulatorInterleavedIndexes(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Merge(1, frag("call_b", "beta", "b1"))
	acc.Merge(0, frag("call_a", "alpha", "a1"))
	acc.Merge(1, frag("", "", "b2"))
	acc.Merge(0, frag("", "", "a2"))
	acc.Merge(1, frag("", "", "b3"))

	out := acc.Finalize()
	require.Len(t, out, 2)
	require.Equal(t, "alpha", out[0].Function.Name)
	require.Equal(t, "a1a2", out[0].Function.Arguments)
	require.Equal(t, "beta", out[1].Function.Name)
	require.Equal(t, "b1b2b3", out[1].Function.Arguments)
}

func TestAccumulatorNameArrivesLate(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Merge(0, frag("", "", `{"a`))
	acc.Merge(0, frag("call_9", "late_name", `":1}`))
	// An empty name in a later fragment never clears the one already set.
	acc.Merge(0, frag("", "", ""))

	out := acc.Finalize()
	require.Len(t, out, 1)
	require.Equal(t, "call_9", out[0].ID)
	require.Equal(t, "late_name", out[0].Function.Name)
	require.Equal(t, `{"a":1}`, out[0].Function.Arguments)
}

func TestAccumulatorFirstIsLowestIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	_, ok := acc.First()
	require.False(t, ok)

	acc.Merge(2, frag("call_c", "gamma", ""))
	first, ok := acc.First()
	require.True(t, ok)
	require.Equal(t, "gamma", first.Function.Name)

	acc.Merge(0, frag("call_a", "alpha", ""))
	first, ok = acc.First()
	require.True(t, ok)
	require.Equal(t, "alpha", first.Function.Name)
}

func TestAccumulatorEmptyFinalize(t *testing.T) {
	acc := newToolCallAccumulator()
	require.Nil(t, acc.Finalize())
	require.Zero(t, acc.Len())
}
