package agent

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxTurns bounds the number of model round-trips of a single run
const DefaultMaxTurns = 40

// Option configures an Agent
type Option func(*Agent)

// WithModel sets the model requested from the backend. When unset the
// backend's default is used.
func WithModel(model string) Option {
	return func(a *Agent) {
		a.model = model
	}
}

// WithHistoryStore sets where conversations are kept
func WithHistoryStore(store HistoryStore) Option {
	return func(a *Agent) {
		if store != nil {
			a.store = store
		}
	}
}

// WithStreamConsumer sets the receiver of response fragments
func WithStreamConsumer(c StreamConsumer) Option {
	return func(a *Agent) {
		if c != nil {
			a.consumer = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMaxTurns bounds the model round-trips of a run. Zero means unbounded.
func WithMaxTurns(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxTurns = n
		}
	}
}

// WithTurnTimeout bounds every turn, streaming and tool execution included
func WithTurnTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.turnTimeout = d
	}
}

// WithSystemPrompt prepends a system message to every request. The prompt
// is never written to the history.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithTracerProvider sets the provider of the agent spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Agent) {
		if tp != nil {
			a.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithSequentialTools runs the tool calls of a turn one after the other
func WithSequentialTools() Option {
	return func(a *Agent) {
		a.sequential = true
	}
}

// WithTemperature sets the sampling temperature of every request
func WithTemperature(t float32) Option {
	return func(a *Agent) {
		a.temperature = &t
	}
}
