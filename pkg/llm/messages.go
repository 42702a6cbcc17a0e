// Message types and constructors
package llm

import "strings"

// MessageRole identifies who produced a message
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ChatMessage is one entry of a conversation. Messages are values: once
// appended to a history they are never modified.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// ToolCalls holds the calls requested by an assistant message, in the
	// order the model emitted them
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName link a tool message to the call it answers
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// Incomplete marks an assistant message whose stream was cut short
	Incomplete bool `json:"incomplete,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSystemMessage creates a system message
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally carrying tool calls
func NewAssistantMessage(content string, calls ...ToolCall) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates the message that carries a tool result back to the model
func NewToolMessage(callID, toolName, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// HasToolCalls reports whether the message requests any tool
func (m ChatMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsEmpty reports whether the message carries neither text nor tool calls
func (m ChatMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.ToolCalls) == 0
}

// Clone returns a copy that shares no mutable state with m
func (m ChatMessage) Clone() ChatMessage {
	c := m
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc.Clone()
		}
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
