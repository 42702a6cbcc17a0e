package agent

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/tools"
)

var errCancelled = errors.New("cancelled")

type toolOutcome struct {
	index   int
	content string
}

// runTools executes the calls of one turn and returns the tool message
// contents in call order. When ctx ends first it stops waiting, marks the
// unfinished calls as cancelled and reports the interruption.
func (a *Agent) runTools(ctx context.Context, n int, calls []llm.ToolCall, logger *slog.Logger) ([]string, bool) {
	contents := make([]string, len(calls))
	finished := make([]bool, len(calls))

	// buffered so that abandoned handlers can still deliver and exit
	done := make(chan toolOutcome, len(calls))

	start := func(i int) {
		go func() {
			done <- toolOutcome{index: i, content: a.dispatch(ctx, n, calls[i], logger)}
		}()
	}
	record := func(out toolOutcome) {
		contents[out.index] = out.content
		finished[out.index] = true
	}
	wait := func() bool {
		select {
		case out := <-done:
			record(out)
			return true
		case <-ctx.Done():
			return false
		}
	}

	interrupted := false
	if a.sequential {
		for i := range calls {
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			start(i)
			if !wait() {
				interrupted = true
				break
			}
		}
	} else {
		for i := range calls {
			start(i)
		}
		for range calls {
			if !wait() {
				interrupted = true
				break
			}
		}
	}

	if !interrupted {
		return contents, ctx.Err() != nil
	}

	// keep whatever finished in the meantime
drain:
	for {
		select {
		case out := <-done:
			record(out)
		default:
			break drain
		}
	}

	for i := range calls {
		if !finished[i] {
			contents[i] = tools.FormatResult(nil, interruption(ctx))
		}
	}
	return contents, true
}

// interruption is the error reported for calls cut short by ctx
func interruption(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTurnTimeout
	}
	return errCancelled
}

// dispatch runs one call and renders its outcome as tool message content
func (a *Agent) dispatch(ctx context.Context, n int, call llm.ToolCall, logger *slog.Logger) string {
	ctx, span := a.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.Int("agent.turn", n),
		attribute.String("tool.name", call.FunctionName),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	payload, err := a.registry.Dispatch(ctx, call)
	if err != nil && ctx.Err() != nil {
		err = interruption(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "tool call failed",
			slog.String("tool", call.FunctionName),
			slog.String("call_id", call.ID),
			slog.Any("error", err))
	}
	return tools.FormatResult(payload, err)
}
