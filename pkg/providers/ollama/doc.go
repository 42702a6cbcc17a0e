// Package ollama provides an Ollama client implementation for the toolloop agent.
//
// This package implements the llm.Client interface on top of the client in
// github.com/ollama/ollama/api, streaming /api/chat responses and passing
// tool definitions and tool results in Ollama's native message format.
//
// The client connects to a local Ollama instance running on localhost:11434
// by default, but can be configured to use any Ollama endpoint.
package ollama
