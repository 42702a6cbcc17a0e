package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/revrost/go-openrouter"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// Client implements the llm.Client interface for OpenRouter
type Client struct {
	client   *openrouter.Client
	model    string
	provider string

	health llm.HealthCache
}

// NewClient creates a new OpenRouter client
func NewClient(config llm.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for OpenRouter",
			Type:    llm.ErrorTypeAuthentication,
		}
	}

	clientConfig := openrouter.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	// attribution headers shown on the OpenRouter dashboards
	if siteURL := config.ExtraValue("site_url", ""); siteURL != "" {
		clientConfig.HttpReferer = siteURL
	}
	if appName := config.ExtraValue("app_name", ""); appName != "" {
		clientConfig.XTitle = appName
	}

	model := config.Model
	if model == "" {
		model = llm.DefaultOpenRouterModel
	}

	return &Client{
		client:   openrouter.NewClientWithConfig(*clientConfig),
		model:    model,
		provider: "openrouter",
	}, nil
}

// StreamChat opens a streaming chat completion. Tool call fragments are
// assembled and delivered complete on the done event.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	openrouterReq, err := c.convertRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openrouterReq)
	if err != nil {
		return nil, convertOpenRouterError(err)
	}

	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)
		defer stream.Close()

		calls := llm.NewToolCallAccumulator()
		finishReason := ""

		for {
			response, err := stream.Recv()
			if err != nil {
				if err.Error() == "EOF" {
					llm.Send(ctx, ch, llm.NewDoneEvent(doneReason(finishReason, calls.Len()), calls.Calls()...))
					return
				}
				if ctx.Err() == nil {
					llm.Send(ctx, ch, llm.NewErrorEvent(convertOpenRouterError(err)))
				}
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			for i, tc := range choice.Delta.ToolCalls {
				index := i
				if tc.Index != nil {
					index = *tc.Index
				}
				calls.Add(llm.ToolCallDelta{
					Index:     index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
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

// performHealthCheck performs a simple health check on the OpenRouter API
func (c *Client) performHealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.ListModels(ctx)
	return err == nil
}

// GetModelInfo returns information about the model. Capabilities depend on
// the routed model, so these are conservative defaults.
func (c *Client) GetModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Name:              c.model,
		Provider:          c.provider,
		MaxTokens:         128000,
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

// Close cleans up resources
func (c *Client) Close() error {
	return nil
}

// convertRequest converts our llm.ChatRequest to OpenRouter format
func (c *Client) convertRequest(req llm.ChatRequest) (openrouter.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	openrouterReq := openrouter.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
	}
	if req.Temperature != nil {
		openrouterReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openrouterReq.MaxTokens = *req.MaxTokens
	}

	for _, tool := range req.Tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}
		if !isValidFunctionName(tool.Function.Name) {
			return openrouterReq, &llm.Error{
				Code:    "invalid_tool_definition",
				Message: fmt.Sprintf("invalid function name format: %s", tool.Function.Name),
				Type:    llm.ErrorTypeValidation,
			}
		}
		params, err := schema.MarshalParameter(tool.Function.Parameters)
		if err != nil {
			return openrouterReq, &llm.Error{
				Code:    "invalid_tool_definition",
				Message: err.Error(),
				Type:    llm.ErrorTypeValidation,
			}
		}
		openrouterReq.Tools = append(openrouterReq.Tools, openrouter.Tool{
			Type: openrouter.ToolTypeFunction,
			Function: &openrouter.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}

	return openrouterReq, nil
}

// convertMessages converts our messages to OpenRouter format
func convertMessages(messages []llm.ChatMessage) []openrouter.ChatCompletionMessage {
	out := make([]openrouter.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openrouterMsg := openrouter.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    openrouter.Content{Text: msg.Content},
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			openrouterMsg.ToolCalls = append(openrouterMsg.ToolCalls, openrouter.ToolCall{
				ID:   tc.ID,
				Type: openrouter.ToolTypeFunction,
				Function: openrouter.FunctionCall{
					Name:      tc.FunctionName,
					Arguments: tc.ArgumentsJSON(),
				},
			})
		}
		out = append(out, openrouterMsg)
	}
	return out
}

// isValidFunctionName checks if a function name follows valid identifier rules
func isValidFunctionName(name string) bool {
	if name == "" {
		return false
	}

	for i, r := range name {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if i == 0 && !letter {
			return false
		}
		if !letter && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// convertOpenRouterError converts OpenRouter errors to our standardized Error format
func convertOpenRouterError(err error) *llm.Error {
	if err == nil {
		return nil
	}

	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) {
		return convertAPIError(apiErr)
	}

	var reqErr *openrouter.RequestError
	if errors.As(err, &reqErr) {
		return &llm.Error{
			Code:       "request_error",
			Message:    reqErr.Error(),
			Type:       llm.TypeForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
		}
	}

	return llm.AsError(err)
}

// convertAPIError converts OpenRouter APIError to our Error format
func convertAPIError(apiErr *openrouter.APIError) *llm.Error {
	errorType := llm.TypeForStatus(apiErr.HTTPStatusCode)
	errorCode := "openrouter_api_error"

	switch apiErr.HTTPStatusCode {
	case 401:
		errorCode = "invalid_api_key"
	case 404:
		errorCode = "model_not_found"
	case 429:
		errorCode = "rate_limit_exceeded"
	case 500, 502, 503, 504:
		errorCode = "server_error"
	}

	if apiErr.Code != nil {
		if codeStr, ok := apiErr.Code.(string); ok && codeStr != "" {
			errorCode = codeStr
		}
	}

	// OpenRouter relays upstream failures with a generic status, so the
	// message is the only hint for these
	messageLower := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(messageLower, "rate limit") || strings.Contains(messageLower, "too many requests"):
		errorType = llm.ErrorTypeRateLimit
		errorCode = "rate_limit_exceeded"
	case strings.Contains(messageLower, "context") && strings.Contains(messageLower, "length"):
		errorType = llm.ErrorTypeValidation
		errorCode = "context_length_exceeded"
	}

	return &llm.Error{
		Code:       errorCode,
		Message:    apiErr.Message,
		Type:       errorType,
		StatusCode: apiErr.HTTPStatusCode,
	}
}

// Model represents a model from OpenRouter API
type Model struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Free   bool     `json:"free"`
	Inputs []string `json:"inputs,omitempty"`
}

// ListModels retrieves available models from OpenRouter API
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]Model, 0, len(resp))
	for _, m := range resp {
		models = append(models, Model{
			ID:     m.ID,
			Name:   m.Name,
			Free:   m.Pricing.Prompt == "0" && m.Pricing.Completion == "0",
			Inputs: m.Architecture.InputModalities,
		})
	}
	return models, nil
}
