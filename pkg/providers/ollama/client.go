package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// modelCapabilities defines the capabilities for a model pattern
type modelCapabilities struct {
	pattern       *regexp.Regexp
	maxTokens     int
	supportsTools bool
}

// modelCapabilitiesList defines capabilities for different Ollama models.
// Models are matched in order, first match wins.
var modelCapabilitiesList = []modelCapabilities{
	{pattern: regexp.MustCompile(`llama3\.[123]`), maxTokens: 131072, supportsTools: true},
	{pattern: regexp.MustCompile(`qwen[23]`), maxTokens: 32768, supportsTools: true},
	{pattern: regexp.MustCompile(`gpt-oss`), maxTokens: 131072, supportsTools: true},
	{pattern: regexp.MustCompile(`mistral|mixtral`), maxTokens: 32768, supportsTools: true},
	{pattern: regexp.MustCompile(`codellama`), maxTokens: 16384, supportsTools: false},
	{pattern: regexp.MustCompile(`llava|vision`), maxTokens: 4096, supportsTools: false},
}

// Client implements the llm.Client interface for Ollama
type Client struct {
	model   string
	baseURL string
	api     *api.Client

	health llm.HealthCache
}

// NewClient creates a new Ollama client
func NewClient(config llm.ClientConfig) (*Client, error) {
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = llm.DefaultOllamaBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &llm.Error{
			Code:    "invalid_base_url",
			Message: fmt.Sprintf("invalid Ollama base URL %q", baseURL),
			Type:    llm.ErrorTypeValidation,
		}
	}

	model := config.Model
	if model == "" {
		model = llm.DefaultOllamaModel
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = llm.DefaultOllamaTimeout // local inference can be slow
	}

	return &Client{
		model:   model,
		baseURL: baseURL,
		api:     api.NewClient(base, &http.Client{Timeout: timeout}),
	}, nil
}

// StreamChat streams a chat through Ollama's /api/chat endpoint. Ollama
// sends tool calls whole, so they are collected and reported on the done
// event.
//
// The call returns once the first response has arrived, so a request the
// server refuses is reported as an error here rather than on the stream.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	ollamaReq, err := c.convertRequest(req)
	if err != nil {
		return nil, err
	}

	// api.Chat blocks and reports through a callback: run it aside and
	// forward its responses. resps is closed once chatErr is set.
	resps := make(chan api.ChatResponse)
	var chatErr error
	go func() {
		defer close(resps)
		chatErr = c.api.Chat(ctx, ollamaReq, func(resp api.ChatResponse) error {
			select {
			case resps <- resp:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var first api.ChatResponse
	select {
	case resp, ok := <-resps:
		if !ok {
			if chatErr == nil {
				return nil, llm.NewStreamError("ollama stream ended before any response")
			}
			return nil, convertError(chatErr)
		}
		first = resp
	case <-ctx.Done():
		return nil, convertError(ctx.Err())
	}

	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)

		var calls []llm.ToolCall
		finished, stopped := false, false

		handle := func(resp api.ChatResponse) {
			for _, tc := range resp.Message.ToolCalls {
				calls = append(calls, convertToolCall(tc))
			}
			if resp.Message.Content != "" {
				if !llm.Send(ctx, ch, llm.NewDeltaEvent(resp.Message.Content)) {
					stopped = true
					return
				}
			}
			if resp.Done {
				finished = true
				llm.Send(ctx, ch, llm.NewDoneEvent(doneReason(resp.DoneReason, len(calls)), calls...))
			}
		}

		handle(first)
		// keep draining until api.Chat returns so its goroutine never blocks
		for resp := range resps {
			if !finished && !stopped {
				handle(resp)
			}
		}

		switch {
		case ctx.Err() != nil || finished || stopped:
		case chatErr != nil:
			llm.Send(ctx, ch, llm.NewErrorEvent(convertError(chatErr)))
		default:
			llm.Send(ctx, ch, llm.NewErrorEvent(llm.NewStreamError("ollama stream ended before completion")))
		}
	}()

	return ch, nil
}

// doneReason normalizes Ollama's done_reason
func doneReason(reported string, calls int) string {
	switch {
	case calls > 0:
		return llm.FinishReasonToolCalls
	case reported == "length":
		return llm.FinishReasonLength
	default:
		return llm.FinishReasonStop
	}
}

// convertToolCall reads a call through its JSON form, which is stable across
// the api package's argument representations
func convertToolCall(tc api.ToolCall) llm.ToolCall {
	call := llm.ToolCall{FunctionName: tc.Function.Name, Arguments: map[string]any{}}
	if raw, err := json.Marshal(tc.Function.Arguments); err == nil {
		call.Arguments = llm.ParseArguments(string(raw))
	}
	return call
}

// wireMessage is the JSON shape of an Ollama chat message
type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
}

type wireToolCall struct {
	Function struct {
		Index     int            `json:"index"`
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// convertRequest converts our ChatRequest to Ollama format
func (c *Client) convertRequest(req llm.ChatRequest) (*api.ChatRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}

	stream := true
	ollamaReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Tools:    tools,
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(options) > 0 {
		ollamaReq.Options = options
	}
	return ollamaReq, nil
}

// convertMessages converts our messages to Ollama messages
func convertMessages(messages []llm.ChatMessage) ([]api.Message, error) {
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wm := wireMessage{Role: string(msg.Role), Content: msg.Content, ToolName: msg.ToolName}
		for i, tc := range msg.ToolCalls {
			var wtc wireToolCall
			wtc.Function.Index = i
			wtc.Function.Name = tc.FunctionName
			wtc.Function.Arguments = tc.Arguments
			if wtc.Function.Arguments == nil {
				wtc.Function.Arguments = map[string]any{}
			}
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire = append(wire, wm)
	}

	var out []api.Message
	if err := roundTrip(wire, &out); err != nil {
		return nil, &llm.Error{Code: "request_error", Message: err.Error(), Type: llm.ErrorTypeValidation}
	}
	return out, nil
}

// convertTools converts function tools to api.Tools
func convertTools(tools []schema.Tool) (api.Tools, error) {
	type wireFunction struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	}
	type wireTool struct {
		Type     string       `json:"type"`
		Function wireFunction `json:"function"`
	}

	var wire []wireTool
	for _, tool := range tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if tool.Function.Parameters != nil {
			raw, err := schema.MarshalParameter(tool.Function.Parameters)
			if err != nil {
				return nil, &llm.Error{Code: "invalid_tool", Message: err.Error(), Type: llm.ErrorTypeValidation}
			}
			params = raw
		}
		wire = append(wire, wireTool{
			Type:     string(schema.ToolTypeFunction),
			Function: wireFunction{Name: tool.Function.Name, Description: tool.Function.Description, Parameters: params},
		})
	}
	if len(wire) == 0 {
		return nil, nil
	}

	var out api.Tools
	if err := roundTrip(wire, &out); err != nil {
		return nil, &llm.Error{Code: "invalid_tool", Message: err.Error(), Type: llm.ErrorTypeValidation}
	}
	return out, nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// convertError converts Ollama errors to our standardized format
func convertError(err error) *llm.Error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return &llm.Error{
			Code:       fmt.Sprintf("ollama_%d", statusErr.StatusCode),
			Message:    msg,
			Type:       llm.TypeForStatus(statusErr.StatusCode),
			StatusCode: statusErr.StatusCode,
		}
	}

	if llmErr := llm.AsError(err); llmErr.Code != "unknown_error" {
		return llmErr
	}
	return &llm.Error{Code: "network_error", Message: err.Error(), Type: llm.ErrorTypeNetwork}
}

// GetRemote returns information about the remote client
func (c *Client) GetRemote() llm.ClientRemoteInfo {
	return llm.ClientRemoteInfo{
		Name:   "ollama",
		Status: c.health.Status(c.performHealthCheck),
	}
}

// performHealthCheck pings the Ollama server
func (c *Client) performHealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.api.Heartbeat(ctx) == nil
}

// GetModelInfo returns information about the model
func (c *Client) GetModelInfo() llm.ModelInfo {
	caps := modelCapabilities{maxTokens: 4096}
	for _, modelCaps := range modelCapabilitiesList {
		if modelCaps.pattern.MatchString(c.model) {
			caps = modelCaps
			break
		}
	}

	return llm.ModelInfo{
		Name:              c.model,
		Provider:          "ollama",
		MaxTokens:         caps.maxTokens,
		SupportsTools:     caps.supportsTools,
		SupportsStreaming: true,
	}
}

// Close cleans up resources
func (c *Client) Close() error {
	return nil
}
