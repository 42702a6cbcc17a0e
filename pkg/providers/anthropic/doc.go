// Package anthropic provides an LLM client for Anthropic's Claude models.
//
// The client streams the Messages API through the official
// anthropic-sdk-go library. System messages are sent out of band, tool
// results are grouped into user turns, and tool use blocks are assembled
// from their partial JSON deltas.
//
// Usage:
//
//	client, err := anthropic.NewClient(llm.ClientConfig{
//	    Provider: "anthropic",
//	    APIKey:   "your-api-key",
//	    Model:    "claude-3-7-sonnet-latest",
//	})
package anthropic
