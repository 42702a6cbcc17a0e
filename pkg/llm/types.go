// Core request types
package llm

import "github.com/inercia/go-toolloop/pkg/schema"

// ChatRequest is a provider-agnostic streaming chat request
type ChatRequest struct {
	// ConversationID identifies the conversation the request belongs to.
	// Backends may use it for caching or logging; it carries no history.
	ConversationID string `json:"conversation_id,omitempty"`

	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []schema.Tool `json:"tools,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// SplitSystem separates leading system messages from the rest of the
// conversation, for backends that take the system prompt out of band
func (r ChatRequest) SplitSystem() (system string, rest []ChatMessage) {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	for i, p := range parts {
		if i > 0 {
			system += "\n\n"
		}
		system += p
	}
	return system, rest
}
