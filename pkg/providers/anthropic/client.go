package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// DefaultMaxTokens is the output budget used when the request sets none.
// The Messages API requires one.
const DefaultMaxTokens = 4096

// Client implements the llm.Client interface for the Anthropic Messages API
type Client struct {
	client   anthropic.Client
	model    string
	provider string

	health llm.HealthCache
}

// NewClient creates a new Anthropic client
func NewClient(config llm.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for Anthropic",
			Type:    llm.ErrorTypeAuthentication,
		}
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	}
	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}

	model := config.Model
	if model == "" {
		model = llm.DefaultAnthropicModel
	}

	return &Client{
		client:   anthropic.NewClient(opts...),
		model:    model,
		provider: "anthropic",
	}, nil
}

// StreamChat opens a streaming Messages call. Tool use inputs arrive as
// partial JSON and are delivered complete on the done event.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	params, err := c.convertRequest(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		state := newStreamState()
		for stream.Next() {
			if fragment := state.apply(stream.Current()); fragment != "" {
				if !llm.Send(ctx, ch, llm.NewDeltaEvent(fragment)) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			if ctx.Err() == nil {
				llm.Send(ctx, ch, llm.NewErrorEvent(convertError(err)))
			}
			return
		}
		if !state.stopped {
			if ctx.Err() == nil {
				llm.Send(ctx, ch, llm.NewErrorEvent(llm.NewStreamError("anthropic stream ended without message_stop")))
			}
			return
		}
		llm.Send(ctx, ch, state.done())
	}()

	return ch, nil
}

// streamState folds Messages stream events into text fragments and tool calls
type streamState struct {
	calls      *llm.ToolCallAccumulator
	stopReason anthropic.StopReason
	stopped    bool
}

func newStreamState() *streamState {
	return &streamState{calls: llm.NewToolCallAccumulator()}
}

// apply consumes one event and returns the text fragment it carries, if any
func (s *streamState) apply(event anthropic.MessageStreamEventUnion) string {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			s.calls.Add(llm.ToolCallDelta{
				Index: int(ev.Index),
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return delta.Text
		case anthropic.InputJSONDelta:
			s.calls.Add(llm.ToolCallDelta{Index: int(ev.Index), Arguments: delta.PartialJSON})
		}
	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			s.stopReason = ev.Delta.StopReason
		}
	case anthropic.MessageStopEvent:
		s.stopped = true
	}
	return ""
}

// done builds the final event of the stream
func (s *streamState) done() llm.StreamEvent {
	calls := s.calls.Calls()
	reason := llm.FinishReasonStop
	switch {
	case len(calls) > 0 || s.stopReason == anthropic.StopReasonToolUse:
		reason = llm.FinishReasonToolCalls
	case s.stopReason == anthropic.StopReasonMaxTokens:
		reason = llm.FinishReasonLength
	}
	return llm.NewDoneEvent(reason, calls...)
}

// convertRequest converts our ChatRequest to Messages API parameters
func (c *Client) convertRequest(req llm.ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	system, rest := req.SplitSystem()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: DefaultMaxTokens,
		Messages:  convertMessages(rest),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}

	tools, err := convertTools(req.Tools)
	if err != nil {
		return params, err
	}
	params.Tools = tools
	return params, nil
}

// convertTools converts function tools to Anthropic tool parameters
func convertTools(tools []schema.Tool) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}

		inputSchema := anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
		if tool.Function.Parameters != nil {
			m, err := schema.ToMap(tool.Function.Parameters)
			if err != nil {
				return nil, &llm.Error{Code: "invalid_tool", Message: err.Error(), Type: llm.ErrorTypeValidation}
			}
			if props, ok := m["properties"]; ok {
				inputSchema.Properties = props
			}
			switch required := m["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		param := &anthropic.ToolParam{
			Name:        tool.Function.Name,
			InputSchema: inputSchema,
		}
		if tool.Function.Description != "" {
			param.Description = anthropic.String(tool.Function.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: param})
	}
	return out, nil
}

// convertMessages converts our messages to Anthropic message parameters.
// Tool results travel in user messages and consecutive results share one.
func convertMessages(messages []llm.ChatMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	lastWasToolResults := false

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, strings.HasPrefix(msg.Content, "error:"))
			if lastWasToolResults {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
			lastWasToolResults = true
			continue

		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    tc.ID,
					Name:  tc.FunctionName,
					Input: input,
				}})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		default:
			if strings.TrimSpace(msg.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
		lastWasToolResults = false
	}

	return out
}

// convertError converts Anthropic API errors to our format
func convertError(err error) *llm.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llm.Error{
			Code:       "anthropic_api_error",
			Message:    apiErr.Error(),
			Type:       llm.TypeForStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
		}
	}
	return llm.AsError(err)
}

// GetRemote returns information about the remote client
func (c *Client) GetRemote() llm.ClientRemoteInfo {
	return llm.ClientRemoteInfo{
		Name:   c.provider,
		Status: c.health.Status(c.performHealthCheck),
	}
}

// performHealthCheck looks up the configured model
func (c *Client) performHealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.client.Models.Get(ctx, c.model, anthropic.ModelGetParams{})
	return err == nil
}

// GetModelInfo returns information about the model being used
func (c *Client) GetModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Name:              c.model,
		Provider:          c.provider,
		MaxTokens:         200000,
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

// Close cleans up any resources used by the client
func (c *Client) Close() error {
	return nil
}
