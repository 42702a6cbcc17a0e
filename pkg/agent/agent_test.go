package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/inercia/go-toolloop/pkg/history"
	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/providers/mock"
	"github.com/inercia/go-toolloop/pkg/schema"
	"github.com/inercia/go-toolloop/pkg/tools"
)

var _ HistoryStore = (*history.Memory)(nil)
var _ HistoryStore = (*history.SQLite)(nil)

const forecast = `{"location":"Paris, FR","forecast":"sunny","temperature":{"high":21,"low":12}}`

func newMock(t *testing.T) *mock.Client {
	t.Helper()
	client, err := mock.NewClient("test-model", "mock")
	require.NoError(t, err)
	return client
}

func weatherRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	err := reg.RegisterFunc("get_current_weather", "Get the current weather",
		schema.Object{
			Properties: map[string]schema.Parameter{
				"location": schema.String{Description: "The location to get the weather for, e.g. San Francisco, CA"},
			},
			Required: []string{"location"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return []byte(forecast), nil
		})
	require.NoError(t, err)
	return reg
}

func weatherCall(id string) llm.ToolCall {
	return llm.ToolCall{ID: id, FunctionName: "get_current_weather", Arguments: map[string]any{"location": "Paris, FR"}}
}

func roles(msgs []llm.ChatMessage) []llm.MessageRole {
	out := make([]llm.MessageRole, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func sessionHistory(t *testing.T, s *Session) []llm.ChatMessage {
	t.Helper()
	msgs, err := s.History(context.Background())
	require.NoError(t, err)
	return msgs
}

func TestRunWithoutTools(t *testing.T) {
	t.Parallel()

	client := newMock(t).WithTextResponse("Hello there")
	var buf BufferConsumer
	ag := New(client, nil, WithStreamConsumer(&buf))
	s := ag.NewSession()

	res, err := ag.Run(context.Background(), s, llm.NewUserMessage("hi"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, "Hello there", res.Final.Content)
	assert.Equal(t, []string{"Hello ", "there"}, buf.Fragments())
	assert.Equal(t, []llm.MessageRole{llm.RoleUser, llm.RoleAssistant}, roles(sessionHistory(t, s)))
	assert.Empty(t, client.GetLastCall().Tools)
}

func TestRunParisWeather(t *testing.T) {
	t.Parallel()

	client := newMock(t).
		WithToolCallResponse("", weatherCall("call_1")).
		WithTextResponse("It is sunny in Paris today.")

	var buf BufferConsumer
	ag := New(client, weatherRegistry(t),
		WithStreamConsumer(&buf),
		WithSystemPrompt("You are a weather assistant."),
		WithModel("test-model"),
		WithTemperature(0.2))
	s := ag.NewSession("1234")

	res, err := ag.Run(context.Background(), s, llm.NewUserMessage("How is weather today in Paris?"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, "It is sunny in Paris today.", buf.String())

	msgs := sessionHistory(t, s)
	require.Equal(t, []llm.MessageRole{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}, roles(msgs))
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, "get_current_weather", msgs[2].ToolName)
	assert.JSONEq(t, forecast, msgs[2].Content)
	assert.Equal(t, res.Final, msgs[3])

	calls := client.GetCallLog()
	require.Len(t, calls, 2)
	for _, req := range calls {
		assert.Equal(t, "1234", req.ConversationID)
		assert.Equal(t, "test-model", req.Model)
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.2, *req.Temperature, 1e-6)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "get_current_weather", req.Tools[0].Name())
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	}
	assert.Len(t, calls[1].Messages, 4, "system prompt plus three history messages")
	assert.Equal(t, llm.RoleTool, calls[1].Messages[3].Role)

	for _, msg := range msgs {
		assert.NotEqual(t, llm.RoleSystem, msg.Role, "the system prompt is never stored")
	}
}

func TestRunToolFailuresAreReportedToModel(t *testing.T) {
	t.Parallel()

	reg := weatherRegistry(t)
	require.NoError(t, reg.RegisterFunc("explode", "", nil, func(context.Context, map[string]any) (any, error) {
		panic("nil pointer")
	}))

	client := newMock(t).
		WithToolCallResponse("",
			llm.ToolCall{ID: "a", FunctionName: "foo"},
			llm.ToolCall{ID: "b", FunctionName: "get_current_weather", Arguments: map[string]any{}},
			llm.ToolCall{ID: "c", FunctionName: "get_current_weather", Arguments: llm.ParseArguments("{bad json")},
			llm.ToolCall{ID: "d", FunctionName: "explode"}).
		WithTextResponse("Sorry, I could not check the weather.")

	ag := New(client, reg)
	s := ag.NewSession()

	res, err := ag.Run(context.Background(), s, llm.NewUserMessage("weather?"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs, 7)
	assert.Equal(t, `error: unknown tool "foo"`, msgs[2].Content)
	assert.Contains(t, msgs[3].Content, "missing required argument")
	assert.Contains(t, msgs[4].Content, "not a JSON object")
	assert.Contains(t, msgs[5].Content, "panicked: nil pointer")
	for i, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, msgs[2+i].ToolCallID)
		assert.True(t, strings.HasPrefix(msgs[2+i].Content, "error: "))
	}
}

type brokenPayload struct {
	Summary *string
}

func (p brokenPayload) MarshalJSON() ([]byte, error) {
	return []byte(*p.Summary), nil
}

func TestRunPanickingPayloadIsReported(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("report", "", nil, func(context.Context, map[string]any) (any, error) {
		return brokenPayload{}, nil
	}))

	client := newMock(t).
		WithToolCallResponse("", llm.ToolCall{ID: "r1", FunctionName: "report"}).
		WithTextResponse("The report could not be read.")

	ag := New(client, reg)
	s := ag.NewSession()

	var res *Result
	var err error
	require.NotPanics(t, func() {
		res, err = ag.Run(context.Background(), s, llm.NewUserMessage("report?"))
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs, 4)
	assert.Equal(t, "r1", msgs[2].ToolCallID)
	assert.True(t, strings.HasPrefix(msgs[2].Content, "error: result is not serializable"), msgs[2].Content)
}

func TestRunToolResultsKeepCallOrder(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("slow", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "A", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	require.NoError(t, reg.RegisterFunc("fast", "", nil, func(context.Context, map[string]any) (any, error) {
		return "B", nil
	}))

	client := newMock(t).
		WithToolCallResponse("", llm.ToolCall{ID: "1", FunctionName: "slow"}, llm.ToolCall{ID: "2", FunctionName: "fast"}).
		WithTextResponse("done")

	ag := New(client, reg)
	s := ag.NewSession()
	_, err := ag.Run(context.Background(), s, llm.NewUserMessage("go"))
	require.NoError(t, err)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs, 5)
	assert.Equal(t, "A", msgs[2].Content)
	assert.Equal(t, "1", msgs[2].ToolCallID)
	assert.Equal(t, "B", msgs[3].Content)
	assert.Equal(t, "2", msgs[3].ToolCallID)
}

func TestRunAssignsMissingCallIDs(t *testing.T) {
	t.Parallel()

	call := weatherCall("")
	client := newMock(t).
		WithStreamResponse(llm.NewDoneEvent(llm.FinishReasonToolCalls, call)).
		WithTextResponse("sunny")

	ag := New(client, weatherRegistry(t))
	s := ag.NewSession()
	_, err := ag.Run(context.Background(), s, llm.NewUserMessage("weather?"))
	require.NoError(t, err)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs, 4)
	id := msgs[1].ToolCalls[0].ID
	assert.True(t, strings.HasPrefix(id, "call_"))
	assert.Equal(t, id, msgs[2].ToolCallID)
}

func TestRunMergesRepeatedCalls(t *testing.T) {
	t.Parallel()

	client := newMock(t).
		WithStreamResponse(
			llm.NewToolCallsEvent(llm.ToolCall{ID: "call_1", FunctionName: "get_current_weather"}),
			llm.NewDoneEvent(llm.FinishReasonToolCalls, weatherCall("call_1")),
		).
		WithTextResponse("sunny")

	ag := New(client, weatherRegistry(t))
	s := ag.NewSession()
	_, err := ag.Run(context.Background(), s, llm.NewUserMessage("weather?"))
	require.NoError(t, err)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "Paris, FR", msgs[1].ToolCalls[0].Arguments["location"])
	assert.JSONEq(t, forecast, msgs[2].Content)
}

func TestRunCancelledMidStream(t *testing.T) {
	t.Parallel()

	client := newMock(t).WithHangingResponse(llm.NewDeltaEvent("The weather "))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ag := New(client, weatherRegistry(t), WithStreamConsumer(ConsumerFunc(func(string) { cancel() })))
	s := ag.NewSession()

	res, err := ag.Run(ctx, s, llm.NewUserMessage("How is weather today in Paris?"))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.True(t, res.Final.Incomplete)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "The weather ", msgs[1].Content)
	assert.True(t, msgs[1].Incomplete)
}

func TestRunCancelledDuringTools(t *testing.T) {
	t.Parallel()

	reg := weatherRegistry(t)
	started := make(chan struct{})
	require.NoError(t, reg.RegisterFunc("slow", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	client := newMock(t).WithToolCallResponse("",
		weatherCall("1"),
		llm.ToolCall{ID: "2", FunctionName: "slow"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	ag := New(client, reg, WithSequentialTools())
	s := ag.NewSession()

	res, err := ag.Run(ctx, s, llm.NewUserMessage("weather?"))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)

	msgs := sessionHistory(t, s)
	require.Equal(t, []llm.MessageRole{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleTool}, roles(msgs))
	assert.JSONEq(t, forecast, msgs[2].Content)
	assert.Equal(t, "error: cancelled", msgs[3].Content)
	assert.Equal(t, "2", msgs[3].ToolCallID)
	assert.Equal(t, 1, client.CallCount())
}

func TestRunAlreadyCancelled(t *testing.T) {
	t.Parallel()

	client := newMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ag := New(client, nil)
	s := ag.NewSession()
	res, err := ag.Run(ctx, s, llm.NewUserMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Zero(t, client.CallCount())
	assert.Empty(t, sessionHistory(t, s))
}

func TestRunSessionBusy(t *testing.T) {
	t.Parallel()

	client := newMock(t).WithHangingResponse()
	ag := New(client, nil)
	s := ag.NewSession("busy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *Result)
	go func() {
		res, _ := ag.Run(ctx, s)
		done <- res
	}()

	require.Eventually(t, func() bool { return client.CallCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := ag.Run(context.Background(), ag.NewSession("busy"), llm.NewUserMessage("again"))
	assert.ErrorIs(t, err, ErrSessionBusy)

	cancel()
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, StatusCancelled, res.Status)

	// the session is free again
	client.WithTextResponse("ok")
	res, err = ag.Run(context.Background(), s, llm.NewUserMessage("again"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Final.Content)
}

func TestRunStreamErrors(t *testing.T) {
	t.Parallel()

	openErr := &llm.Error{Code: "unauthorized", Message: "invalid api key", Type: llm.ErrorTypeAuthentication, StatusCode: 401}

	tests := []struct {
		name   string
		script func(*mock.Client)
		code   string
	}{
		{
			name:   "open failure",
			script: func(c *mock.Client) { c.WithOpenError(openErr) },
			code:   "unauthorized",
		},
		{
			name:   "error event",
			script: func(c *mock.Client) { c.WithError("overloaded", "server overloaded", llm.ErrorTypeAPI) },
			code:   "overloaded",
		},
		{
			name:   "closed without done",
			script: func(c *mock.Client) { c.WithStreamResponse(llm.NewDeltaEvent("The weather")) },
			code:   "stream_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newMock(t)
			tt.script(client)
			client.WithTextResponse("never reached")

			ag := New(client, weatherRegistry(t))
			s := ag.NewSession()
			res, err := ag.Run(context.Background(), s, llm.NewUserMessage("weather?"))
			require.Error(t, err)
			assert.Nil(t, res)

			var streamErr *StreamError
			require.ErrorAs(t, err, &streamErr)
			assert.Equal(t, 1, streamErr.Turn)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.code, llmErr.Code)

			assert.Equal(t, 1, client.CallCount(), "stream errors are never retried")
			assert.Len(t, sessionHistory(t, s), 1)
		})
	}
}

func TestRunTurnTimeout(t *testing.T) {
	t.Parallel()

	client := newMock(t).WithHangingResponse(llm.NewDeltaEvent("Thinking"))
	ag := New(client, nil, WithTurnTimeout(50*time.Millisecond))
	s := ag.NewSession()

	_, err := ag.Run(context.Background(), s, llm.NewUserMessage("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTurnTimeout)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, 1, turnErr.Turn)

	msgs := sessionHistory(t, s)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Thinking", msgs[1].Content)
	assert.True(t, msgs[1].Incomplete)
}

func TestRunMaxTurns(t *testing.T) {
	t.Parallel()

	client := newMock(t)
	for i := 0; i < 3; i++ {
		client.WithToolCallResponse("", weatherCall(""))
	}

	ag := New(client, weatherRegistry(t), WithMaxTurns(2))
	s := ag.NewSession()

	_, err := ag.Run(context.Background(), s, llm.NewUserMessage("weather?"))
	assert.ErrorIs(t, err, ErrMaxTurns)
	assert.Equal(t, 2, client.CallCount())
	assert.Len(t, sessionHistory(t, s), 5, "history is kept")
}

func TestRunConsumerPanicIsContained(t *testing.T) {
	t.Parallel()

	client := newMock(t).WithTextResponse("Hello there")
	ag := New(client, nil, WithStreamConsumer(ConsumerFunc(func(string) { panic("broken terminal") })))

	res, err := ag.Run(context.Background(), ag.NewSession(), llm.NewUserMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Final.Content)
}

func TestRunEmitsSpans(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	client := newMock(t).
		WithToolCallResponse("", weatherCall("call_1")).
		WithTextResponse("sunny")

	ag := New(client, weatherRegistry(t), WithTracerProvider(tp))
	_, err := ag.Run(context.Background(), ag.NewSession("1234"), llm.NewUserMessage("weather?"))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, span := range sr.Ended() {
		counts[span.Name()]++
		if span.Name() == "agent.tool" {
			attrs := map[string]string{}
			for _, kv := range span.Attributes() {
				attrs[string(kv.Key)] = kv.Value.Emit()
			}
			assert.Equal(t, "get_current_weather", attrs["tool.name"])
			assert.Equal(t, "call_1", attrs["tool.call_id"])
		}
	}
	assert.Equal(t, map[string]int{"agent.run": 1, "agent.turn": 2, "agent.tool": 1}, counts)
}

func TestSessionHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ag := New(newMock(t), nil)

	s := ag.NewSession()
	assert.NotEmpty(t, s.ID())
	assert.NotEqual(t, s.ID(), ag.NewSession().ID())

	require.NoError(t, s.Append(ctx, llm.NewUserMessage("a"), llm.NewAssistantMessage("b")))
	assert.Len(t, sessionHistory(t, s), 2)

	same := ag.NewSession(s.ID())
	assert.Len(t, sessionHistory(t, same), 2, "sessions with the same id share history")

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, sessionHistory(t, same))
}

func TestSessionMutationDuringRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var s *Session
	var appendErr, clearErr error
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterFunc("take_note", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		appendErr = s.Append(ctx, llm.NewUserMessage("interleaved"))
		clearErr = s.Clear(ctx)
		return "noted", nil
	}))

	client := newMock(t).
		WithToolCallResponse("", llm.ToolCall{ID: "n1", FunctionName: "take_note"}).
		WithTextResponse("Done.")
	ag := New(client, reg)
	s = ag.NewSession("notes")

	res, err := ag.Run(ctx, s, llm.NewUserMessage("take a note"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	assert.ErrorIs(t, appendErr, ErrSessionBusy)
	assert.ErrorIs(t, clearErr, ErrSessionBusy)

	msgs := sessionHistory(t, s)
	assert.Equal(t, []llm.MessageRole{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}, roles(msgs))
	assert.Equal(t, "noted", msgs[2].Content)

	// the session accepts edits once the run is over
	require.NoError(t, s.Append(ctx, llm.NewUserMessage("later")))
	require.NoError(t, s.Clear(ctx))
}

func TestRunNilSession(t *testing.T) {
	t.Parallel()

	_, err := New(newMock(t), nil).Run(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionBusy))
}
