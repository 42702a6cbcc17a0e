// Package openai implements llm.Client on top of the OpenAI chat completions
// API, or any endpoint compatible with it.
//
// Responses are always streamed. Text fragments are forwarded as they
// arrive, while tool call fragments are joined by index and delivered
// complete on the final event.
package openai
