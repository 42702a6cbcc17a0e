// Tool call types and streaming assembly
package llm

import (
	"encoding/json"
	"sort"
	"strings"
)

// RawArgumentsKey holds argument text that could not be decoded as a JSON
// object, so the dispatcher can reject it instead of the stream failing
const RawArgumentsKey = "_raw"

// ToolCall is a model-produced request to invoke a tool. Arguments are
// untrusted and are validated by the dispatcher before any handler runs.
type ToolCall struct {
	ID           string         `json:"id,omitempty"`
	FunctionName string         `json:"function_name"`
	Arguments    map[string]any `json:"arguments"`
}

// ArgumentsJSON encodes the arguments as a JSON object
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Clone returns a copy with its own argument map
func (tc ToolCall) Clone() ToolCall {
	c := tc
	if tc.Arguments != nil {
		c.Arguments = make(map[string]any, len(tc.Arguments))
		for k, v := range tc.Arguments {
			c.Arguments[k] = v
		}
	}
	return c
}

// ParseArguments decodes a JSON argument string. Text that is not a JSON
// object is kept under RawArgumentsKey.
func ParseArguments(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return map[string]any{RawArgumentsKey: s}
	}
	return args
}

// ToolCallDelta is an incremental tool call fragment, as streamed by
// OpenAI-compatible backends
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

type pendingCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// ToolCallAccumulator joins tool call fragments by index. Calls are only
// usable once the stream is complete.
type ToolCallAccumulator struct {
	calls map[int]*pendingCall
}

// NewToolCallAccumulator creates an empty accumulator
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// Add merges a fragment into the call at delta.Index
func (a *ToolCallAccumulator) Add(delta ToolCallDelta) {
	pc, ok := a.calls[delta.Index]
	if !ok {
		pc = &pendingCall{}
		a.calls[delta.Index] = pc
	}
	if delta.ID != "" {
		pc.id = delta.ID
	}
	pc.name.WriteString(delta.Name)
	pc.args.WriteString(delta.Arguments)
}

// Len returns the number of distinct calls seen so far
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Calls returns the assembled calls ordered by index
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		pc := a.calls[i]
		out = append(out, ToolCall{
			ID:           pc.id,
			FunctionName: pc.name.String(),
			Arguments:    ParseArguments(pc.args.String()),
		})
	}
	return out
}
