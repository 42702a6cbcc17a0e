package factory

import (
	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/providers/anthropic"
	"github.com/inercia/go-toolloop/pkg/providers/bedrock"
	"github.com/inercia/go-toolloop/pkg/providers/deepseek"
	"github.com/inercia/go-toolloop/pkg/providers/gemini"
	"github.com/inercia/go-toolloop/pkg/providers/mock"
	"github.com/inercia/go-toolloop/pkg/providers/ollama"
	"github.com/inercia/go-toolloop/pkg/providers/openai"
	"github.com/inercia/go-toolloop/pkg/providers/openrouter"
)

func init() {
	RegisterProvider("openrouter", func(config llm.ClientConfig) (llm.Client, error) {
		return openrouter.NewClient(config)
	})

	RegisterProvider("openai", func(config llm.ClientConfig) (llm.Client, error) {
		return openai.NewClient(config)
	})

	RegisterProvider("anthropic", func(config llm.ClientConfig) (llm.Client, error) {
		return anthropic.NewClient(config)
	})

	RegisterProvider("deepseek", func(config llm.ClientConfig) (llm.Client, error) {
		return deepseek.NewClient(config)
	})

	RegisterProvider("gemini", func(config llm.ClientConfig) (llm.Client, error) {
		return gemini.NewClient(config)
	})

	RegisterProvider("bedrock", func(config llm.ClientConfig) (llm.Client, error) {
		return bedrock.NewClient(config)
	})

	RegisterProvider("ollama", func(config llm.ClientConfig) (llm.Client, error) {
		return ollama.NewClient(config)
	})

	// scripted backend for tests and offline demos
	mockConstructor := func(config llm.ClientConfig) (llm.Client, error) {
		return mock.NewClient(config.Model, "mock")
	}
	RegisterProvider("mock", mockConstructor)
	RegisterProvider("mocked", mockConstructor)
}
