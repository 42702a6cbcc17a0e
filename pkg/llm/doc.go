// Package llm provides the provider-agnostic types used to talk to Large
// Language Model backends.
//
// The main components include:
//
// - Client interface: the streaming submit operation every backend implements
// - ChatMessage and ToolCall: the conversation data exchanged with backends
// - StreamEvent: incremental fragments, tool calls and the final event
// - ToolCallAccumulator: assembly of tool calls streamed in fragments
// - Configuration: ClientConfig and environment discovery
// - Error handling: the normalized *Error shared by all providers
// - Middleware, logging and retry decorators for any Client
//
// Provider implementations are located in separate packages under /pkg/providers/
// to maintain clean separation of concerns and avoid import cycles.
package llm
