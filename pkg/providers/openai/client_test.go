package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

func sseServer(t *testing.T, chunks ...string) (*httptest.Server, <-chan openai.ChatCompletionRequest) {
	t.Helper()
	received := make(chan openai.ChatCompletionRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		received <- req

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func collect(t *testing.T, ch <-chan llm.StreamEvent) []llm.StreamEvent {
	t.Helper()
	var events []llm.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(llm.ClientConfig{Model: "gpt-4o"})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "missing_api_key", llmErr.Code)
}

func TestStreamChatText(t *testing.T) {
	t.Parallel()

	srv, received := sseServer(t,
		`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"The weather "}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"is sunny"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)

	client, err := NewClient(llm.ClientConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.ChatMessage{llm.NewSystemMessage("be brief"), llm.NewUserMessage("weather?")},
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, "The weather ", events[0].Content)
	assert.Equal(t, "is sunny", events[1].Content)
	assert.True(t, events[2].IsDone())
	assert.Equal(t, llm.FinishReasonStop, events[2].FinishReason)
	assert.Empty(t, events[2].ToolCalls)

	req := <-received
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
}

func TestStreamChatAssemblesToolCalls(t *testing.T) {
	t.Parallel()

	srv, received := sseServer(t,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_current_weather","arguments":""}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"location\":"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris, FR\"}"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"get_time","arguments":"not json"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	client, err := NewClient(llm.ClientConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	tool := schema.NewFunction("get_current_weather", "Get the current weather", schema.Object{
		Properties: map[string]schema.Parameter{"location": schema.String{}},
		Required:   []string{"location"},
	})

	ch, err := client.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.ChatMessage{llm.NewUserMessage("weather?")},
		Tools:    []schema.Tool{tool},
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	done := events[0]
	require.True(t, done.IsDone())
	assert.Equal(t, llm.FinishReasonToolCalls, done.FinishReason)
	require.Len(t, done.ToolCalls, 2)
	assert.Equal(t, "call_1", done.ToolCalls[0].ID)
	assert.Equal(t, "get_current_weather", done.ToolCalls[0].FunctionName)
	assert.Equal(t, map[string]any{"location": "Paris, FR"}, done.ToolCalls[0].Arguments)
	assert.Equal(t, map[string]any{llm.RawArgumentsKey: "not json"}, done.ToolCalls[1].Arguments)

	req := <-received
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_current_weather", req.Tools[0].Function.Name)
}

func TestStreamChatAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(llm.ClientConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.StreamChat(context.Background(), llm.ChatRequest{Messages: []llm.ChatMessage{llm.NewUserMessage("hi")}})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, http.StatusTooManyRequests, llmErr.StatusCode)
	assert.Equal(t, llm.ErrorTypeRateLimit, llmErr.Type)
	assert.True(t, llmErr.Retryable())
}

func TestConvertMessages(t *testing.T) {
	t.Parallel()

	client := &Client{model: "gpt-4o"}
	call := llm.ToolCall{ID: "call_1", FunctionName: "get_current_weather", Arguments: map[string]any{"location": "Paris"}}

	msgs := client.convertMessages([]llm.ChatMessage{
		llm.NewUserMessage("   "),
		llm.NewAssistantMessage("", call),
		llm.NewToolMessage("call_1", "get_current_weather", "sunny"),
	})
	require.Len(t, msgs, 3)

	assert.Equal(t, " ", msgs[0].Content, "blank content becomes a space")
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, openai.ToolTypeFunction, msgs[1].ToolCalls[0].Type)
	assert.JSONEq(t, `{"location":"Paris"}`, msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, "sunny", msgs[2].Content)
}

func TestModelInfo(t *testing.T) {
	t.Parallel()

	official := &Client{model: "gpt-4o", provider: "openai"}
	info := official.GetModelInfo()
	assert.Equal(t, 128000, info.MaxTokens)
	assert.True(t, info.SupportsTools)
	assert.False(t, official.supportsTools("my-gpt-clone"))

	custom := &Client{model: "my-gpt-clone", provider: "openai", baseURL: "http://localhost:8000/v1"}
	assert.True(t, custom.GetModelInfo().SupportsTools)
	assert.Equal(t, 4096, custom.GetModelInfo().MaxTokens)
}
