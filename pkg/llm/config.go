// Configuration types and environment discovery
package llm

import (
	"os"
	"strconv"
	"time"
)

const (
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-3-7-sonnet-latest"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultDeepSeekModel   = "deepseek-chat"
	DefaultOpenRouterModel = "openai/gpt-4o-mini"
	DefaultBedrockModel    = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultOllamaModel     = "mistral"
)

const DefaultOllamaBaseURL = "http://localhost:11434"

const (
	DefaultTimeout       = 30 * time.Second
	DefaultOllamaTimeout = 60 * time.Second
)

// ClientConfig holds configuration for creating LLM clients
type ClientConfig struct {
	Provider   string            `json:"provider"` // openai, anthropic, gemini, ollama, bedrock, etc.
	Model      string            `json:"model"`
	APIKey     string            `json:"api_key,omitempty"`
	BaseURL    string            `json:"base_url,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"` // Provider-specific configs
}

// ExtraValue returns Extra[key], or def when it is unset
func (c ClientConfig) ExtraValue(key, def string) string {
	if v, ok := c.Extra[key]; ok && v != "" {
		return v
	}
	return def
}

// parseTimeoutFromEnv parses timeout from environment variable with fallback to default
func parseTimeoutFromEnv(envVar string, defaultTimeout time.Duration) time.Duration {
	if timeoutStr := os.Getenv(envVar); timeoutStr != "" {
		if timeoutSecs, err := strconv.Atoi(timeoutStr); err == nil && timeoutSecs > 0 {
			return time.Duration(timeoutSecs) * time.Second
		}
	}
	return defaultTimeout
}

// modelFromEnv returns the first non-empty variable, or def
func modelFromEnv(def string, vars ...string) string {
	for _, v := range vars {
		if m := os.Getenv(v); m != "" {
			return m
		}
	}
	return def
}

// GetLLMFromEnv picks a provider from the environment. Explicit endpoints
// win over hosted APIs, and a local Ollama is the fallback.
func GetLLMFromEnv() ClientConfig {
	// Custom OpenAI-compatible endpoint
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			apiKey = "dummy" // Some endpoints don't require real keys
		}
		return ClientConfig{
			Provider: "openai",
			Model:    modelFromEnv(DefaultOpenAIModel, "OPENAI_MODEL", "MODEL"),
			APIKey:   apiKey,
			BaseURL:  baseURL,
			Timeout:  parseTimeoutFromEnv("OPENAI_TIMEOUT", DefaultTimeout),
		}
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "openai",
			Model:    modelFromEnv(DefaultOpenAIModel, "OPENAI_MODEL", "MODEL"),
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("OPENAI_TIMEOUT", DefaultTimeout),
		}
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "anthropic",
			Model:    modelFromEnv(DefaultAnthropicModel, "ANTHROPIC_MODEL", "MODEL"),
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("ANTHROPIC_TIMEOUT", DefaultTimeout),
		}
	}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "gemini",
			Model:    modelFromEnv(DefaultGeminiModel, "GEMINI_MODEL", "MODEL"),
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("GEMINI_TIMEOUT", DefaultTimeout),
		}
	}

	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "deepseek",
			Model:    modelFromEnv(DefaultDeepSeekModel, "DEEPSEEK_MODEL", "MODEL"),
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("DEEPSEEK_TIMEOUT", DefaultTimeout),
		}
	}

	if apiKey := os.Getenv("OPENROUTER_API_KEY"); apiKey != "" {
		return ClientConfig{
			Provider: "openrouter",
			Model:    modelFromEnv(DefaultOpenRouterModel, "OPENROUTER_MODEL", "MODEL"),
			APIKey:   apiKey,
			Timeout:  parseTimeoutFromEnv("OPENROUTER_TIMEOUT", DefaultTimeout),
		}
	}

	if model := os.Getenv("BEDROCK_MODEL"); model != "" && os.Getenv("AWS_REGION") != "" {
		return ClientConfig{
			Provider: "bedrock",
			Model:    model,
			Timeout:  parseTimeoutFromEnv("BEDROCK_TIMEOUT", DefaultTimeout),
			Extra:    map[string]string{"region": os.Getenv("AWS_REGION")},
		}
	}

	baseURL := DefaultOllamaBaseURL
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		baseURL = host
	}
	return ClientConfig{
		Provider: "ollama",
		Model:    modelFromEnv(DefaultOllamaModel, "OLLAMA_MODEL", "MODEL"),
		BaseURL:  baseURL,
		Timeout:  parseTimeoutFromEnv("OLLAMA_TIMEOUT", DefaultOllamaTimeout),
	}
}
