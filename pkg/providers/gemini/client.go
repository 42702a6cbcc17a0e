package gemini

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// safeIntToInt32 safely converts int to int32
func safeIntToInt32(val int) int32 {
	if val > 2147483647 {
		return 2147483647
	}
	if val < -2147483648 {
		return -2147483648
	}
	return int32(val)
}

// modelCapabilities defines the capabilities for a model pattern
type modelCapabilities struct {
	pattern       *regexp.Regexp
	maxTokens     int
	supportsTools bool
}

// modelCapabilitiesList defines capabilities for different Gemini models.
// Models are matched in order, first match wins.
var modelCapabilitiesList = []modelCapabilities{
	{pattern: regexp.MustCompile(`gemini-(2\.[05]|2\.5)-(pro|flash)`), maxTokens: 1048576, supportsTools: true},
	{pattern: regexp.MustCompile(`gemini-1\.5-pro`), maxTokens: 2000000, supportsTools: true},
	{pattern: regexp.MustCompile(`gemini-1\.5-flash`), maxTokens: 1000000, supportsTools: true},
	{pattern: regexp.MustCompile(`gemma-`), maxTokens: 8192, supportsTools: false},
}

// Client implements the llm.Client interface for Google Gemini
type Client struct {
	model    string
	provider string
	genai    *genai.Client

	health llm.HealthCache
}

// NewClient creates a new Gemini client using the official Google Generative AI library.
func NewClient(config llm.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{Code: "missing_api_key", Message: "API key is required for Gemini", Type: llm.ErrorTypeAuthentication}
	}
	if config.Model == "" {
		config.Model = llm.DefaultGeminiModel
	}

	genaiConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		genaiConfig.HTTPOptions.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		genaiConfig.HTTPOptions.Timeout = &config.Timeout
	}

	genaiClient, err := genai.NewClient(context.Background(), genaiConfig)
	if err != nil {
		return nil, &llm.Error{
			Code:    "client_creation_error",
			Message: fmt.Sprintf("failed to create genai client: %v", err),
			Type:    llm.ErrorTypeAPI,
		}
	}

	return &Client{
		model:    config.Model,
		provider: "gemini",
		genai:    genaiClient,
	}, nil
}

// StreamChat streams generated content. Gemini sends function calls whole,
// so they are collected as they arrive and reported on the done event.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	system, rest := req.SplitSystem()
	contents := convertMessages(rest)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = req.Temperature
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = safeIntToInt32(*req.MaxTokens)
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}
	config.Tools = tools

	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)

		var calls []llm.ToolCall
		finishReason := ""

		for response, err := range c.genai.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				if ctx.Err() == nil {
					llm.Send(ctx, ch, llm.NewErrorEvent(convertError(err)))
				}
				return
			}
			if len(response.Candidates) == 0 {
				continue
			}

			candidate := response.Candidates[0]
			if candidate.FinishReason == genai.FinishReasonMaxTokens {
				finishReason = llm.FinishReasonLength
			}
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.FunctionCall != nil {
					calls = append(calls, llm.ToolCall{
						ID:           part.FunctionCall.ID,
						FunctionName: part.FunctionCall.Name,
						Arguments:    part.FunctionCall.Args,
					})
					continue
				}
				if part.Text != "" && !part.Thought {
					if !llm.Send(ctx, ch, llm.NewDeltaEvent(part.Text)) {
						return
					}
				}
			}
		}

		switch {
		case len(calls) > 0:
			finishReason = llm.FinishReasonToolCalls
		case finishReason == "":
			finishReason = llm.FinishReasonStop
		}
		llm.Send(ctx, ch, llm.NewDoneEvent(finishReason, calls...))
	}()

	return ch, nil
}

// convertMessages converts our messages to genai contents. Consecutive tool
// results are grouped in a single user turn, as Gemini expects one
// response part per call of the previous model turn.
func convertMessages(messages []llm.ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.ToolName, map[string]any{"result": msg.Content})
			part.FunctionResponse.ID = msg.ToolCallID
			if n := len(contents); n > 0 && isToolResults(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})

		case llm.RoleAssistant:
			var parts []*genai.Part
			if strings.TrimSpace(msg.Content) != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				part := genai.NewPartFromFunctionCall(tc.FunctionName, tc.Arguments)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}

		default:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return contents
}

func isToolResults(content *genai.Content) bool {
	if content.Role != genai.RoleUser || len(content.Parts) == 0 {
		return false
	}
	for _, p := range content.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// convertTools converts function tools to a single genai tool holding all
// the declarations
func convertTools(tools []schema.Tool) ([]*genai.Tool, error) {
	var decls []*genai.FunctionDeclaration
	for _, tool := range tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}
		decl := &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		}
		if tool.Function.Parameters != nil {
			params, err := schema.ToMap(tool.Function.Parameters)
			if err != nil {
				return nil, &llm.Error{Code: "invalid_tool", Message: err.Error(), Type: llm.ErrorTypeValidation}
			}
			decl.ParametersJsonSchema = params
		}
		decls = append(decls, decl)
	}
	if len(decls) == 0 {
		return nil, nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// convertError converts genai errors to our internal error format
func convertError(err error) *llm.Error {
	if err == nil {
		return nil
	}

	var ourErr *llm.Error
	if errors.As(err, &ourErr) {
		return ourErr
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code := strings.ToLower(apiErr.Status)
		if code == "" {
			code = "api_error"
		}
		return &llm.Error{
			Code:       code,
			Message:    apiErr.Message,
			Type:       llm.TypeForStatus(apiErr.Code),
			StatusCode: apiErr.Code,
		}
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "API key") || strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "401"):
		return &llm.Error{Code: "authentication_error", Message: errMsg, Type: llm.ErrorTypeAuthentication, StatusCode: 401}
	case strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "429"):
		return &llm.Error{Code: "rate_limit_error", Message: errMsg, Type: llm.ErrorTypeRateLimit, StatusCode: 429}
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

	_, err := c.genai.Models.Get(ctx, c.model, nil)
	return err == nil
}

// GetModelInfo returns information about the model being used
func (c *Client) GetModelInfo() llm.ModelInfo {
	caps := modelCapabilities{maxTokens: 30720, supportsTools: true}
	for _, modelCaps := range modelCapabilitiesList {
		if modelCaps.pattern.MatchString(c.model) {
			caps = modelCaps
			break
		}
	}

	return llm.ModelInfo{
		Name:              c.model,
		Provider:          c.provider,
		MaxTokens:         caps.maxTokens,
		SupportsTools:     caps.supportsTools,
		SupportsStreaming: true,
	}
}

// Close is a no-op, the genai client holds no resources
func (c *Client) Close() error {
	return nil
}
