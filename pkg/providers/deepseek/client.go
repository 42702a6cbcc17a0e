package deepseek

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cohesion-org/deepseek-go"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// Client implements the llm.Client interface for DeepSeek
type Client struct {
	client   *deepseek.Client
	model    string
	provider string

	health llm.HealthCache
}

// NewClient creates a new DeepSeek client
func NewClient(config llm.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for DeepSeek",
			Type:    llm.ErrorTypeAuthentication,
		}
	}

	var opts []deepseek.Option
	if config.BaseURL != "" {
		if config.BaseURL == "http://" || config.BaseURL == "https://" {
			return nil, &llm.Error{
				Code:    "invalid_base_url",
				Message: "base URL cannot be just a protocol",
				Type:    llm.ErrorTypeValidation,
			}
		}
		opts = append(opts, deepseek.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, deepseek.WithTimeout(config.Timeout))
	}

	client, err := deepseek.NewClientWithOptions(config.APIKey, opts...)
	if err != nil {
		return nil, &llm.Error{
			Code:    "client_creation_error",
			Message: "failed to create DeepSeek client: " + err.Error(),
			Type:    llm.ErrorTypeValidation,
		}
	}

	model := config.Model
	if model == "" {
		model = llm.DefaultDeepSeekModel
	}

	return &Client{
		client:   client,
		model:    model,
		provider: "deepseek",
	}, nil
}

// StreamChat opens a streaming chat completion. Tool call fragments are
// assembled and delivered complete on the done event.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	deepseekReq, err := c.convertStreamRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, &deepseekReq)
	if err != nil {
		return nil, convertError(err)
	}

	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		calls := llm.NewToolCallAccumulator()
		finishReason := ""

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				llm.Send(ctx, ch, llm.NewDoneEvent(doneReason(finishReason, calls.Len()), calls.Calls()...))
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					llm.Send(ctx, ch, llm.NewErrorEvent(convertError(err)))
				}
				return
			}
			if response == nil || len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			for _, tc := range choice.Delta.ToolCalls {
				calls.Add(llm.ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}

			if choice.Delta.Content != "" {
				if !llm.Send(ctx, ch, llm.NewDeltaEvent(choice.Delta.Content)) {
					return
				}
			}
		}
	}()

	return ch, nil
}

// doneReason normalizes the finish reason reported on the done event
func doneReason(reported string, calls int) string {
	switch {
	case calls > 0:
		return llm.FinishReasonToolCalls
	case reported == "":
		return llm.FinishReasonStop
	default:
		return reported
	}
}

// GetRemote returns information about the remote client
func (c *Client) GetRemote() llm.ClientRemoteInfo {
	return llm.ClientRemoteInfo{
		Name:   c.provider,
		Status: c.health.Status(c.performHealthCheck),
	}
}

// performHealthCheck sends a one-token completion
func (c *Client) performHealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := deepseek.ChatCompletionRequest{
		Model: c.model,
		Messages: []deepseek.ChatCompletionMessage{
			{Role: "user", Content: "test"},
		},
		MaxTokens: 1,
	}

	_, err := c.client.CreateChatCompletion(ctx, &req)
	return err == nil
}

// GetModelInfo returns information about the model
func (c *Client) GetModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Name:              c.model,
		Provider:          c.provider,
		MaxTokens:         65536,
		SupportsTools:     !strings.Contains(c.model, "reasoner"),
		SupportsStreaming: true,
	}
}

// Close cleans up resources
func (c *Client) Close() error {
	return nil
}

// convertStreamRequest converts our llm.ChatRequest to a DeepSeek streaming request
func (c *Client) convertStreamRequest(req llm.ChatRequest) (deepseek.StreamChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	deepseekReq := deepseek.StreamChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
	}
	if req.Temperature != nil {
		deepseekReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		deepseekReq.MaxTokens = *req.MaxTokens
	}

	if len(req.Tools) > 0 && !c.GetModelInfo().SupportsTools {
		return deepseekReq, &llm.Error{
			Code:    "tools_not_supported",
			Message: "model " + model + " does not support tools",
			Type:    llm.ErrorTypeValidation,
		}
	}

	for _, tool := range req.Tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}
		params, err := convertToolParameters(tool.Function.Parameters)
		if err != nil {
			return deepseekReq, err
		}
		deepseekReq.Tools = append(deepseekReq.Tools, deepseek.Tool{
			Type: string(schema.ToolTypeFunction),
			Function: deepseek.Function{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  params,
			},
		})
	}

	return deepseekReq, nil
}

// convertMessages converts our messages to DeepSeek format
func convertMessages(messages []llm.ChatMessage) []deepseek.ChatCompletionMessage {
	out := make([]deepseek.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		deepseekMsg := deepseek.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for i, tc := range msg.ToolCalls {
			deepseekMsg.ToolCalls = append(deepseekMsg.ToolCalls, deepseek.ToolCall{
				Index: i, // DeepSeek requires an index
				ID:    tc.ID,
				Type:  string(schema.ToolTypeFunction),
				Function: deepseek.ToolCallFunction{
					Name:      tc.FunctionName,
					Arguments: tc.ArgumentsJSON(),
				},
			})
		}
		out = append(out, deepseekMsg)
	}
	return out
}

// convertToolParameters converts a parameter schema to DeepSeek FunctionParameters
func convertToolParameters(p schema.Parameter) (*deepseek.FunctionParameters, error) {
	if p == nil {
		return nil, nil
	}

	paramMap, err := schema.ToMap(p)
	if err != nil {
		return nil, &llm.Error{
			Code:    "invalid_tool_definition",
			Message: err.Error(),
			Type:    llm.ErrorTypeValidation,
		}
	}

	result := &deepseek.FunctionParameters{Type: "object"}
	if typeStr, ok := paramMap["type"].(string); ok {
		result.Type = typeStr
	}
	if props, ok := paramMap["properties"].(map[string]any); ok {
		result.Properties = props
	}
	switch required := paramMap["required"].(type) {
	case []string:
		result.Required = required
	case []any:
		for _, item := range required {
			if s, ok := item.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result, nil
}

// convertError converts DeepSeek error to our standardized error format.
// The SDK reports HTTP failures as plain errors, so classification relies on
// the message.
func convertError(err error) *llm.Error {
	if err == nil {
		return nil
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llm.AsError(err)
	}

	errorMsg := err.Error()
	lower := strings.ToLower(errorMsg)

	code := "api_error"
	errorType := llm.ErrorTypeAPI
	statusCode := 0

	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "authentication") || strings.Contains(lower, "401"):
		code = "authentication_error"
		errorType = llm.ErrorTypeAuthentication
		statusCode = 401
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429"):
		code = "rate_limit_error"
		errorType = llm.ErrorTypeRateLimit
		statusCode = 429
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		code = "model_not_found"
		errorType = llm.ErrorTypeValidation
		statusCode = 404
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		code = "timeout_error"
		errorType = llm.ErrorTypeNetwork
	case strings.Contains(lower, "validation") || strings.Contains(lower, "invalid"):
		code = "validation_error"
		errorType = llm.ErrorTypeValidation
		statusCode = 400
	}

	return &llm.Error{
		Code:       code,
		Message:    errorMsg,
		Type:       errorType,
		StatusCode: statusCode,
	}
}
