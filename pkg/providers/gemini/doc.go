// Package gemini provides an LLM client for Google Gemini models.
//
// The client streams content through the official google.golang.org/genai
// library. System messages become the system instruction, tool results are
// sent back as function response parts, and function calls are collected
// from the stream and reported on its final event.
//
// Usage:
//
//	client, err := gemini.NewClient(llm.ClientConfig{
//	    Provider: "gemini",
//	    APIKey:   "your-api-key",
//	    Model:    "gemini-2.0-flash",
//	})
package gemini
