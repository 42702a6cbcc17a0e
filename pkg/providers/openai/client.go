package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// ModelAttribute represents a model attribute with its pattern and value
type ModelAttribute[T any] struct {
	Pattern *regexp.Regexp
	Value   T
}

var (
	// Tools support patterns - models that support function calling
	toolsSupport = []ModelAttribute[bool]{
		{regexp.MustCompile(`^gpt-4o(-mini)?$`), true},
		{regexp.MustCompile(`^gpt-4\.1(-mini|-nano)?$`), true},
		{regexp.MustCompile(`^gpt-4(-0613|-32k|-32k-0613)?$`), true},
		{regexp.MustCompile(`^gpt-4-turbo(-preview|-\d{4}-\d{2}-\d{2})?$`), true},
		{regexp.MustCompile(`^gpt-3\.5-turbo(-16k|-\d{4}-\d{2}-\d{2})?$`), true},
		// custom endpoints serving GPT-like or open-weight models
		{regexp.MustCompile(`(?i).*gpt.*`), true},
		{regexp.MustCompile(`(?i).*oss.*`), true},
		{regexp.MustCompile(`.*`), false},
	}

	// Context length patterns - maximum tokens for different models
	contextLength = []ModelAttribute[int]{
		{regexp.MustCompile(`^gpt-4\.1(-mini|-nano)?$`), 1047576},
		{regexp.MustCompile(`^gpt-4o(-mini)?$`), 128000},
		{regexp.MustCompile(`^gpt-4-turbo(-preview|-\d{4}-\d{2}-\d{2})?$`), 128000},
		{regexp.MustCompile(`^gpt-4-32k(-0613)?$`), 32768},
		{regexp.MustCompile(`^gpt-4(-0613)?$`), 8192},
		{regexp.MustCompile(`^gpt-3\.5-turbo-16k(-\d{4}-\d{2}-\d{2})?$`), 16384},
		{regexp.MustCompile(`^gpt-3\.5-turbo(-\d{4}-\d{2}-\d{2})?$`), 4096},
		{regexp.MustCompile(`.*`), 4096},
	}
)

// getModelAttribute returns the attribute value for a given model by matching against patterns
func getModelAttribute[T any](model string, attributes []ModelAttribute[T]) T {
	for _, attr := range attributes {
		if attr.Pattern.MatchString(model) {
			return attr.Value
		}
	}
	var zero T
	return zero
}

const officialBaseURL = "https://api.openai.com/v1"

// Client implements the llm.Client interface for OpenAI and OpenAI-compatible
// endpoints
type Client struct {
	client   *openai.Client
	model    string
	provider string
	baseURL  string

	health llm.HealthCache
}

// NewClient creates a new OpenAI client
func NewClient(config llm.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for OpenAI",
			Type:    llm.ErrorTypeAuthentication,
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = llm.DefaultOpenAIModel
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		provider: "openai",
		baseURL:  config.BaseURL,
	}, nil
}

// StreamChat opens a streaming chat completion. Tool call fragments are
// assembled and delivered complete on the done event.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	openaiReq, err := c.convertRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, c.convertError(err)
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
					llm.Send(ctx, ch, llm.NewErrorEvent(c.convertError(err)))
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

// performHealthCheck lists the models of the endpoint
func (c *Client) performHealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.client.ListModels(ctx)
	return err == nil
}

// GetModelInfo returns information about the model being used
func (c *Client) GetModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Name:              c.model,
		Provider:          c.provider,
		MaxTokens:         getModelAttribute(c.model, contextLength),
		SupportsTools:     c.supportsTools(c.model),
		SupportsStreaming: true,
	}
}

// Close cleans up any resources used by the client
func (c *Client) Close() error {
	return nil
}

// convertRequest converts our ChatRequest to OpenAI format
func (c *Client) convertRequest(req llm.ChatRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: c.convertMessages(req.Messages),
		Stream:   true,
	}
	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}

	tools, err := convertTools(req.Tools)
	if err != nil {
		return openaiReq, err
	}
	openaiReq.Tools = tools
	return openaiReq, nil
}

// convertTools converts tool descriptors. Tools of kinds other than
// function are not understood by the API and are left out.
func convertTools(tools []schema.Tool) ([]openai.Tool, error) {
	var out []openai.Tool
	for _, tool := range tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}
		params, err := schema.MarshalParameter(tool.Function.Parameters)
		if err != nil {
			return nil, &llm.Error{
				Code:    "invalid_tool",
				Message: err.Error(),
				Type:    llm.ErrorTypeValidation,
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out, nil
}

// convertMessages converts our messages to OpenAI format
func (c *Client) convertMessages(messages []llm.ChatMessage) []openai.ChatCompletionMessage {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		openaiMsg := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			openaiMsg.ToolCalls = append(openaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.FunctionName,
					Arguments: tc.ArgumentsJSON(),
				},
			})
		}

		// a space instead of an empty string avoids 'undefined' content errors
		// on some compatible endpoints
		if strings.TrimSpace(openaiMsg.Content) == "" {
			openaiMsg.Content = " "
		}

		openaiMessages = append(openaiMessages, openaiMsg)
	}

	return openaiMessages
}

// convertError converts OpenAI error to our format
func (c *Client) convertError(err error) *llm.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := "unknown"
		if codeStr, ok := apiErr.Code.(string); ok && codeStr != "" {
			code = codeStr
		}
		return &llm.Error{
			Code:       code,
			Message:    apiErr.Message,
			Type:       llm.TypeForStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.Error{
			Code:       "request_failed",
			Message:    reqErr.Error(),
			Type:       llm.TypeForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
		}
	}

	return llm.AsError(err)
}

// supportsTools checks if model supports function calling
func (c *Client) supportsTools(model string) bool {
	if c.baseURL != "" && c.baseURL != officialBaseURL {
		return getModelAttribute(model, toolsSupport)
	}

	// the official API only gets the explicit patterns
	for _, attr := range toolsSupport {
		pattern := attr.Pattern.String()
		if strings.Contains(pattern, "(?i).*gpt.*") || strings.Contains(pattern, "(?i).*oss.*") {
			continue
		}
		if attr.Pattern.MatchString(model) {
			return attr.Value
		}
	}
	return false
}
