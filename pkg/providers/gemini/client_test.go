package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

func weatherTool() schema.Tool {
	return schema.NewFunction("get_current_weather", "Get the current weather", schema.Object{
		Properties: map[string]schema.Parameter{"location": schema.String{}},
		Required:   []string{"location"},
	})
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(llm.ClientConfig{})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "missing_api_key", llmErr.Code)
}

func TestStreamChat(t *testing.T) {
	t.Parallel()

	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:streamGenerateContent")
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(data, &body))
		received <- body

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"Let me look "}]}}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"that up."},{"functionCall":{"name":"get_current_weather","args":{"location":"Paris"}}}]},"finishReason":"STOP"}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(llm.ClientConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	ch, err := client.StreamChat(context.Background(), llm.ChatRequest{
		Messages: []llm.ChatMessage{
			llm.NewSystemMessage("You are a weather assistant"),
			llm.NewUserMessage("How is weather today in Paris?"),
		},
		Tools: []schema.Tool{weatherTool()},
	})
	require.NoError(t, err)

	var events []llm.StreamEvent
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				break
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}

	require.Len(t, events, 3)
	assert.Equal(t, "Let me look ", events[0].Content)
	assert.Equal(t, "that up.", events[1].Content)
	last := events[2]
	require.True(t, last.IsDone())
	assert.Equal(t, llm.FinishReasonToolCalls, last.FinishReason)
	require.Len(t, last.ToolCalls, 1)
	assert.Equal(t, "get_current_weather", last.ToolCalls[0].FunctionName)
	assert.Equal(t, map[string]any{"location": "Paris"}, last.ToolCalls[0].Arguments)

	body := <-received
	assert.Contains(t, body, "systemInstruction")
	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 1, "system messages are not sent as contents")
}

func TestConvertMessagesGroupsToolResults(t *testing.T) {
	t.Parallel()

	contents := convertMessages([]llm.ChatMessage{
		llm.NewUserMessage("weather in Paris and Rome?"),
		llm.NewAssistantMessage("",
			llm.ToolCall{ID: "a", FunctionName: "get_current_weather", Arguments: map[string]any{"location": "Paris"}},
			llm.ToolCall{ID: "b", FunctionName: "get_current_weather", Arguments: map[string]any{"location": "Rome"}},
		),
		llm.NewToolMessage("a", "get_current_weather", "sunny"),
		llm.NewToolMessage("b", "get_current_weather", "rainy"),
		llm.NewAssistantMessage("Sunny in Paris, rainy in Rome."),
		llm.NewUserMessage("   "),
	})

	require.Len(t, contents, 4)
	assert.Equal(t, string(genai.RoleUser), string(contents[0].Role))

	assert.Equal(t, string(genai.RoleModel), string(contents[1].Role))
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "a", contents[1].Parts[0].FunctionCall.ID)

	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "b", contents[2].Parts[1].FunctionResponse.ID)
	assert.Equal(t, map[string]any{"result": "rainy"}, contents[2].Parts[1].FunctionResponse.Response)

	assert.Equal(t, "Sunny in Paris, rainy in Rome.", contents[3].Parts[0].Text)
}

func TestConvertTools(t *testing.T) {
	t.Parallel()

	tools, err := convertTools([]schema.Tool{weatherTool(), {Type: "retrieval"}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 1)
	decl := tools[0].FunctionDeclarations[0]
	assert.Equal(t, "get_current_weather", decl.Name)
	params, ok := decl.ParametersJsonSchema.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])

	tools, err = convertTools(nil)
	require.NoError(t, err)
	assert.Nil(t, tools)
}

func TestConvertError(t *testing.T) {
	t.Parallel()

	err := convertError(fmt.Errorf("request: %w", genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"}))
	assert.Equal(t, llm.ErrorTypeRateLimit, err.Type)
	assert.Equal(t, "resource_exhausted", err.Code)
	assert.True(t, err.Retryable())

	err = convertError(errors.New("API key not valid"))
	assert.Equal(t, llm.ErrorTypeAuthentication, err.Type)
}

func TestGetModelInfo(t *testing.T) {
	t.Parallel()

	c := &Client{model: "gemini-1.5-pro-latest", provider: "gemini"}
	assert.Equal(t, 2000000, c.GetModelInfo().MaxTokens)

	c = &Client{model: "gemma-3-27b-it", provider: "gemini"}
	assert.False(t, c.GetModelInfo().SupportsTools)
}
