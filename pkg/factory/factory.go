package factory

import (
	"fmt"
	"strings"

	"github.com/inercia/go-toolloop/pkg/llm"
)

// DefaultProvider is used when the configuration names no provider
const DefaultProvider = "ollama"

// Factory creates LLM clients based on configuration
type Factory struct{}

// New creates a new client factory
func New() *Factory {
	return &Factory{}
}

// CreateClient creates an LLM client based on the configuration. An empty
// model is left to the provider, which falls back to its default model.
func (f *Factory) CreateClient(config llm.ClientConfig) (llm.Client, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider == "" {
		provider = DefaultProvider
	}
	config.Provider = provider

	constructor, exists := GetProvider(provider)
	if !exists {
		return nil, &llm.Error{
			Code:    "unsupported_provider",
			Message: fmt.Sprintf("unsupported provider: %s", provider),
			Type:    llm.ErrorTypeValidation,
		}
	}

	return constructor(config)
}
