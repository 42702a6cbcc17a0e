package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inercia/go-toolloop/pkg/history"
	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
	"github.com/inercia/go-toolloop/pkg/tools"
)

const tracerName = "github.com/inercia/go-toolloop/pkg/agent"

// Status tells how a run ended
type Status string

const (
	// StatusCompleted means the model produced a final answer
	StatusCompleted Status = "completed"
	// StatusCancelled means the caller cancelled the run
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of a run
type Result struct {
	// Final is the last assistant message. For a cancelled run it may be
	// incomplete.
	Final  llm.ChatMessage
	Turns  int
	Status Status
}

type turnState int

const (
	turnContinue turnState = iota
	turnCompleted
	turnCancelled
)

// Agent drives conversations between a model and a set of tools. A run
// streams the model response, executes the requested tools, feeds their
// results back and repeats until the model answers without tool calls.
type Agent struct {
	client   llm.Client
	registry *tools.Registry

	store    HistoryStore
	consumer StreamConsumer
	logger   *slog.Logger
	tracer   trace.Tracer

	model        string
	systemPrompt string
	maxTurns     int
	turnTimeout  time.Duration
	sequential   bool
	temperature  *float32

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an agent using client as the model backend and the tools in
// registry. A nil registry means no tools.
func New(client llm.Client, registry *tools.Registry, opts ...Option) *Agent {
	if registry == nil {
		registry = tools.NewRegistry()
	}

	a := &Agent{
		client:   client,
		registry: registry,
		store:    history.NewMemory(),
		consumer: Discard,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		maxTurns: DefaultMaxTurns,
		active:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the tools offered to the model
func (a *Agent) Registry() *tools.Registry {
	return a.registry
}

func (a *Agent) acquire(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.active[id]; busy {
		return false
	}
	a.active[id] = struct{}{}
	return true
}

func (a *Agent) running(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, busy := a.active[id]
	return busy
}

func (a *Agent) release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, id)
}

// Run appends input to the session history and runs the conversation until
// the model answers without requesting tools.
//
// Cancelling ctx is not an error: the run stops promptly, the history is
// left well formed and the result has StatusCancelled.
func (a *Agent) Run(ctx context.Context, s *Session, input ...llm.ChatMessage) (*Result, error) {
	if s == nil {
		return nil, errors.New("agent: nil session")
	}
	if !a.acquire(s.id) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, s.id)
	}
	defer a.release(s.id)

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("agent.input_messages", len(input)),
	))
	defer span.End()

	logger := a.logger.With(slog.String("session", s.id))
	start := time.Now()
	logger.InfoContext(ctx, "run started", slog.Int("input_messages", len(input)))

	res, err := a.run(ctx, s.id, logger, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "run failed", slog.Duration("duration", time.Since(start)), slog.Any("error", err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("agent.turns", res.Turns),
		attribute.String("agent.status", string(res.Status)),
	)
	logger.InfoContext(ctx, "run finished",
		slog.Duration("duration", time.Since(start)),
		slog.Int("turns", res.Turns),
		slog.String("status", string(res.Status)))
	return res, nil
}

func (a *Agent) run(ctx context.Context, sessionID string, logger *slog.Logger, input []llm.ChatMessage) (*Result, error) {
	if ctx.Err() != nil {
		return &Result{Status: StatusCancelled}, nil
	}

	for _, msg := range input {
		if err := a.store.Append(ctx, sessionID, msg); err != nil {
			return nil, fmt.Errorf("appending input: %w", err)
		}
	}

	// the tool set is fixed for the whole run
	toolset := a.registry.Tools()

	for n := 1; ; n++ {
		if a.maxTurns > 0 && n > a.maxTurns {
			return nil, fmt.Errorf("%w (%d)", ErrMaxTurns, a.maxTurns)
		}

		msg, state, err := a.turn(ctx, sessionID, n, logger, toolset)
		if err != nil {
			return nil, err
		}

		switch state {
		case turnCompleted:
			return &Result{Final: msg, Turns: n, Status: StatusCompleted}, nil
		case turnCancelled:
			return &Result{Final: msg, Turns: n, Status: StatusCancelled}, nil
		}
	}
}

// turn performs one model round-trip and executes the tools it requests
func (a *Agent) turn(ctx context.Context, sessionID string, n int, logger *slog.Logger, toolset []schema.Tool) (llm.ChatMessage, turnState, error) {
	ctx, span := a.tracer.Start(ctx, "agent.turn", trace.WithAttributes(attribute.Int("agent.turn", n)))
	defer span.End()

	turnCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.turnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, a.turnTimeout)
	}
	defer cancel()

	fail := func(msg llm.ChatMessage, err error) (llm.ChatMessage, turnState, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return msg, turnContinue, err
	}

	msgs, err := a.store.List(turnCtx, sessionID)
	if err != nil {
		if turnCtx.Err() != nil {
			return a.interrupted(ctx, n, llm.ChatMessage{}, fail)
		}
		return fail(llm.ChatMessage{}, fmt.Errorf("loading history: %w", err))
	}

	logger.DebugContext(ctx, "turn started", slog.Int("turn", n), slog.Int("messages", len(msgs)))

	msg, err := a.stream(turnCtx, n, a.request(sessionID, msgs, toolset))
	if err != nil {
		if turnCtx.Err() == nil {
			return fail(msg, err)
		}
		// the calls of an unfinished response are never executed
		msg.ToolCalls = nil
		msg.Incomplete = true
		if msg.Content != "" {
			if err := a.persist(ctx, sessionID, msg); err != nil {
				return fail(msg, err)
			}
		}
		return a.interrupted(ctx, n, msg, fail)
	}

	if err := a.persist(ctx, sessionID, msg); err != nil {
		return fail(msg, err)
	}

	span.SetAttributes(attribute.Int("agent.tool_calls", len(msg.ToolCalls)))
	if !msg.HasToolCalls() {
		logger.DebugContext(ctx, "turn completed", slog.Int("turn", n))
		return msg, turnCompleted, nil
	}

	logger.DebugContext(ctx, "executing tools", slog.Int("turn", n), slog.Int("tool_calls", len(msg.ToolCalls)))
	contents, interrupted := a.runTools(turnCtx, n, msg.ToolCalls, logger)

	results := make([]llm.ChatMessage, len(msg.ToolCalls))
	for i, call := range msg.ToolCalls {
		results[i] = llm.NewToolMessage(call.ID, call.FunctionName, contents[i])
	}
	if err := a.persist(ctx, sessionID, results...); err != nil {
		return fail(msg, err)
	}

	if interrupted {
		return a.interrupted(ctx, n, msg, fail)
	}
	return msg, turnContinue, nil
}

// interrupted classifies a turn whose context ended: caller cancellation
// ends the run quietly, anything else is a turn timeout
func (a *Agent) interrupted(ctx context.Context, n int, msg llm.ChatMessage,
	fail func(llm.ChatMessage, error) (llm.ChatMessage, turnState, error),
) (llm.ChatMessage, turnState, error) {
	if ctx.Err() != nil {
		a.logger.InfoContext(ctx, "run cancelled", slog.Int("turn", n))
		return msg, turnCancelled, nil
	}
	return fail(msg, &TurnError{Turn: n, Err: ErrTurnTimeout})
}

func (a *Agent) request(sessionID string, msgs []llm.ChatMessage, toolset []schema.Tool) llm.ChatRequest {
	all := make([]llm.ChatMessage, 0, len(msgs)+1)
	if a.systemPrompt != "" {
		all = append(all, llm.NewSystemMessage(a.systemPrompt))
	}
	all = append(all, msgs...)

	return llm.ChatRequest{
		ConversationID: sessionID,
		Model:          a.model,
		Messages:       all,
		Tools:          toolset,
		Temperature:    a.temperature,
	}
}

// persist appends to the history regardless of cancellation, so that a
// response that was shown to the user is never lost
func (a *Agent) persist(ctx context.Context, sessionID string, msgs ...llm.ChatMessage) error {
	ctx = context.WithoutCancel(ctx)
	for _, msg := range msgs {
		if err := a.store.Append(ctx, sessionID, msg); err != nil {
			return fmt.Errorf("appending %s message: %w", msg.Role, err)
		}
	}
	return nil
}
