package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/inercia/go-toolloop/pkg/llm"
)

// stream submits req and consumes the response. On failure the returned
// message holds the text received so far.
func (a *Agent) stream(ctx context.Context, n int, req llm.ChatRequest) (llm.ChatMessage, error) {
	msg := llm.ChatMessage{Role: llm.RoleAssistant}

	events, err := a.client.StreamChat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return msg, ctx.Err()
		}
		return msg, &StreamError{Turn: n, Err: err}
	}

	var text strings.Builder
	var calls callSet

	for {
		select {
		case <-ctx.Done():
			msg.Content = text.String()
			return msg, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				msg.Content = text.String()
				if ctx.Err() != nil {
					return msg, ctx.Err()
				}
				return msg, &StreamError{Turn: n, Err: llm.NewStreamError("stream ended before completion")}
			}

			if ev.Type == llm.StreamEventError {
				msg.Content = text.String()
				cause := ev.Error
				if cause == nil {
					cause = llm.NewStreamError("backend reported an unspecified error")
				}
				return msg, &StreamError{Turn: n, Err: cause}
			}

			if ev.Content != "" {
				a.emit(ctx, ev.Content)
				text.WriteString(ev.Content)
			}
			calls.add(ev.ToolCalls...)

			if ev.IsDone() {
				msg.Content = text.String()
				msg.ToolCalls = calls.list()
				return msg, nil
			}
		}
	}
}

// emit hands a fragment to the consumer. A failing consumer cannot affect
// the conversation.
func (a *Agent) emit(ctx context.Context, fragment string) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.WarnContext(ctx, "stream consumer panicked", slog.Any("panic", p))
		}
	}()
	a.consumer.OnFragment(fragment)
}

// callSet collects the tool calls of a response in emission order. A call
// repeated with the same id replaces the earlier one.
type callSet struct {
	calls []llm.ToolCall
	byID  map[string]int
}

func (c *callSet) add(calls ...llm.ToolCall) {
	for _, call := range calls {
		if call.ID != "" {
			if i, seen := c.byID[call.ID]; seen {
				c.calls[i] = call
				continue
			}
			if c.byID == nil {
				c.byID = make(map[string]int)
			}
			c.byID[call.ID] = len(c.calls)
		}
		c.calls = append(c.calls, call)
	}
}

// list returns the calls, giving an id to those the backend left without one
func (c *callSet) list() []llm.ToolCall {
	if len(c.calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Clone()
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.NewString()
		}
	}
	return out
}
