package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// Handler executes a tool with decoded, validated arguments. The returned
// payload is opaque to the dispatcher and is rendered with FormatResult.
type Handler interface {
	Call(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Call implements Handler
func (f HandlerFunc) Call(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

type entry struct {
	tool     schema.Tool
	handler  Handler
	compiled *jsonschema.Schema
}

// Registry maps tool names to handlers and dispatches model tool calls.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	logger  *slog.Logger
	timeout time.Duration
	strict  bool
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for dispatch events
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimeout bounds every handler invocation
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithStrictValidation validates arguments against the full JSON Schema of
// each tool, in addition to the required-property checks
func WithStrictValidation() Option {
	return func(r *Registry) {
		r.strict = true
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates a tool with its handler. The tool is validated first;
// a malformed descriptor yields a *schema.SchemaError and nothing is
// registered.
func (r *Registry) Register(tool schema.Tool, handler Handler) error {
	if err := tool.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, tool.Name())
	}

	e := &entry{tool: tool, handler: handler}
	if r.strict {
		compiled, err := schema.Compile(tool.Function.Parameters)
		if err != nil {
			return &schema.SchemaError{Tool: tool.Name(), Path: "parameters", Reason: err.Error()}
		}
		e.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return nil
}

// RegisterFunc registers a function tool built from its parts
func (r *Registry) RegisterFunc(name, description string, params schema.Parameter, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	return r.Register(schema.NewFunction(name, description, params), fn)
}

// RegisterTyped registers a tool whose arguments decode into T. The
// parameter schema is derived from T's struct tags.
func RegisterTyped[T any](r *Registry, name, description string, fn func(ctx context.Context, args T) (any, error)) error {
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}

	var zero T
	params, err := schema.FromStruct(zero)
	if err != nil {
		return &schema.SchemaError{Tool: name, Path: "parameters", Reason: err.Error()}
	}

	return r.RegisterFunc(name, description, params, func(ctx context.Context, args map[string]any) (any, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, &ArgumentError{Tool: name, Reason: err.Error()}
		}
		var typed T
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, &ArgumentError{Tool: name, Reason: err.Error()}
		}
		return fn(ctx, typed)
	})
}

// Unregister removes a tool, reporting whether it was present
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Tools returns the registered tool descriptors in registration order
func (r *Registry) Tools() []schema.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// Names returns the registered tool names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Lookup returns the descriptor registered under name
func (r *Registry) Lookup(name string) (schema.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return schema.Tool{}, false
	}
	return e.tool, true
}

// Dispatch executes a model tool call. The outcome is the handler payload,
// or one of *UnknownToolError, *ArgumentError or *HandlerError. Dispatch
// never panics, whatever the call contains.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[call.FunctionName]
	r.mu.RUnlock()

	logger := r.logger.With(slog.String("tool", call.FunctionName), slog.String("call_id", call.ID))

	if !ok {
		err := &UnknownToolError{Name: call.FunctionName}
		logger.WarnContext(ctx, "unknown tool requested")
		return nil, err
	}

	args, err := checkArguments(call.FunctionName, e.tool.Function.Parameters, call.Arguments)
	if err == nil && e.compiled != nil {
		err = r.validateStrict(call.FunctionName, e.compiled, args)
	}
	if err != nil {
		logger.WarnContext(ctx, "invalid tool arguments", slog.Any("error", err))
		return nil, err
	}

	start := time.Now()
	result, err := r.invoke(ctx, call.FunctionName, e.handler, args)
	if err != nil {
		logger.WarnContext(ctx, "tool failed", slog.Duration("duration", time.Since(start)), slog.Any("error", err))
		return nil, err
	}

	logger.DebugContext(ctx, "tool completed", slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (r *Registry) validateStrict(tool string, compiled *jsonschema.Schema, args map[string]any) error {
	// round-trip through JSON so that the validator only sees plain JSON values
	raw, err := json.Marshal(args)
	if err != nil {
		return &ArgumentError{Tool: tool, Reason: err.Error()}
	}
	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return &ArgumentError{Tool: tool, Reason: err.Error()}
	}

	if err := compiled.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ArgumentError{Tool: tool, Reason: verr.Error()}
		}
		return &ArgumentError{Tool: tool, Reason: err.Error()}
	}
	return nil
}

// invoke runs the handler in its own goroutine so that a configured timeout
// is honoured even by handlers that ignore their context
func (r *Registry) invoke(ctx context.Context, name string, h Handler, args map[string]any) (any, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if p := recover(); p != nil {
				out = outcome{err: &HandlerError{Tool: name, Err: &panicError{value: p}, Panicked: true}}
			}
			done <- out
		}()

		v, err := h.Call(ctx, args)
		if err != nil {
			err = &HandlerError{Tool: name, Err: err}
		}
		out = outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.timeout > 0 {
			return nil, &HandlerError{Tool: name, Err: ErrHandlerTimeout}
		}
		return nil, &HandlerError{Tool: name, Err: ctx.Err()}
	}
}
