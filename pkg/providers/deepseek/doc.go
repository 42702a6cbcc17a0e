// Package deepseek provides an LLM client for DeepSeek models.
//
// The client streams chat completions through the deepseek-go SDK and
// assembles tool call fragments, delivering complete calls on the final
// event of each response. The reasoner models do not accept tools.
//
// Usage:
//
//	client, err := deepseek.NewClient(llm.ClientConfig{
//	    Provider: "deepseek",
//	    APIKey:   "your-api-key",
//	    Model:    "deepseek-chat",
//	})
package deepseek
