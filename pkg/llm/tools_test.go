package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{name: "empty", in: "  ", want: map[string]any{}},
		{name: "object", in: `{"location":"Paris"}`, want: map[string]any{"location": "Paris"}},
		{name: "truncated", in: `{"location":"Par`, want: map[string]any{RawArgumentsKey: `{"location":"Par`}},
		{name: "not an object", in: `["Paris"]`, want: map[string]any{RawArgumentsKey: `["Paris"]`}},
		{name: "null", in: `null`, want: map[string]any{RawArgumentsKey: "null"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseArguments(tt.in))
		})
	}
}

func TestToolCallAccumulator(t *testing.T) {
	t.Parallel()

	acc := NewToolCallAccumulator()
	assert.Nil(t, acc.Calls())

	// fragments of two calls, interleaved and out of order
	acc.Add(ToolCallDelta{Index: 1, ID: "call_b", Name: "get_time"})
	acc.Add(ToolCallDelta{Index: 0, ID: "call_a", Name: "get_current_"})
	acc.Add(ToolCallDelta{Index: 0, Name: "weather", Arguments: `{"loca`})
	acc.Add(ToolCallDelta{Index: 1, Arguments: `{}`})
	acc.Add(ToolCallDelta{Index: 0, Arguments: `tion":"Paris"}`})

	require.Equal(t, 2, acc.Len())
	calls := acc.Calls()
	require.Len(t, calls, 2)

	assert.Equal(t, ToolCall{ID: "call_a", FunctionName: "get_current_weather", Arguments: map[string]any{"location": "Paris"}}, calls[0])
	assert.Equal(t, ToolCall{ID: "call_b", FunctionName: "get_time", Arguments: map[string]any{}}, calls[1])
}

func TestToolCallAccumulatorMalformedArguments(t *testing.T) {
	t.Parallel()

	acc := NewToolCallAccumulator()
	acc.Add(ToolCallDelta{Index: 0, Name: "get_current_weather", Arguments: `{"location": `})

	calls := acc.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].ID)
	assert.Equal(t, map[string]any{RawArgumentsKey: `{"location":`}, calls[0].Arguments)
}

func TestToolCallArgumentsJSON(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "{}", ToolCall{}.ArgumentsJSON())
	assert.JSONEq(t, `{"location":"Paris","days":2}`,
		ToolCall{Arguments: map[string]any{"location": "Paris", "days": 2}}.ArgumentsJSON())
}

func TestToolCallClone(t *testing.T) {
	t.Parallel()

	orig := ToolCall{ID: "1", FunctionName: "f", Arguments: map[string]any{"a": 1}}
	clone := orig.Clone()
	clone.Arguments["a"] = 2

	assert.Equal(t, 1, orig.Arguments["a"])
}
