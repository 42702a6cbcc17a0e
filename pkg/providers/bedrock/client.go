package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// Client implements the llm.Client interface for AWS Bedrock, using the
// Converse API so that every model family shares one message format
type Client struct {
	bedrockClient        *bedrock.Client
	bedrockRuntimeClient *bedrockruntime.Client
	model                string
	region               string
	provider             string

	health llm.HealthCache
}

// NewClient creates a new AWS Bedrock client
func NewClient(config llm.ClientConfig) (*Client, error) {
	region := config.ExtraValue("region", "us-east-1")

	awsConfig, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, &llm.Error{
			Code:    "aws_config_error",
			Message: fmt.Sprintf("failed to load AWS configuration: %v", err),
			Type:    llm.ErrorTypeAuthentication,
		}
	}

	bedrockClient := bedrock.NewFromConfig(awsConfig, func(o *bedrock.Options) {
		if endpoint := config.ExtraValue("bedrock_endpoint", ""); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	bedrockRuntimeClient := bedrockruntime.NewFromConfig(awsConfig, func(o *bedrockruntime.Options) {
		if endpoint := config.ExtraValue("bedrock_runtime_endpoint", ""); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if config.BaseURL != "" {
			o.BaseEndpoint = aws.String(config.BaseURL)
		}
	})

	model := config.Model
	if model == "" {
		model = llm.DefaultBedrockModel
	}

	return &Client{
		bedrockClient:        bedrockClient,
		bedrockRuntimeClient: bedrockRuntimeClient,
		model:                model,
		region:               region,
		provider:             "bedrock",
	}, nil
}

// StreamChat opens a ConverseStream call. Tool use blocks are assembled
// from their deltas and reported on the done event.
func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	input, err := c.convertRequest(req)
	if err != nil {
		return nil, err
	}

	output, err := c.bedrockRuntimeClient.ConverseStream(ctx, input)
	if err != nil {
		return nil, convertError(err)
	}
	stream := output.GetStream()

	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		state := newStreamState()
		for ev := range stream.Events() {
			if fragment := state.apply(ev); fragment != "" {
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
				llm.Send(ctx, ch, llm.NewErrorEvent(llm.NewStreamError("bedrock stream ended without a stop event")))
			}
			return
		}
		llm.Send(ctx, ch, state.done())
	}()

	return ch, nil
}

// streamState folds ConverseStream events into text fragments and tool calls
type streamState struct {
	calls      *llm.ToolCallAccumulator
	stopReason types.StopReason
	stopped    bool
}

func newStreamState() *streamState {
	return &streamState{calls: llm.NewToolCallAccumulator()}
}

// apply consumes one event and returns the text fragment it carries, if any
func (s *streamState) apply(ev types.ConverseStreamOutput) string {
	switch v := ev.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			s.calls.Add(llm.ToolCallDelta{
				Index: blockIndex(v.Value.ContentBlockIndex),
				ID:    aws.ToString(start.Value.ToolUseId),
				Name:  aws.ToString(start.Value.Name),
			})
		}
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := v.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return delta.Value
		case *types.ContentBlockDeltaMemberToolUse:
			s.calls.Add(llm.ToolCallDelta{
				Index:     blockIndex(v.Value.ContentBlockIndex),
				Arguments: aws.ToString(delta.Value.Input),
			})
		}
	case *types.ConverseStreamOutputMemberMessageStop:
		s.stopReason = v.Value.StopReason
		s.stopped = true
	}
	return ""
}

// done builds the final event of the stream
func (s *streamState) done() llm.StreamEvent {
	calls := s.calls.Calls()
	reason := llm.FinishReasonStop
	switch {
	case len(calls) > 0 || s.stopReason == types.StopReasonToolUse:
		reason = llm.FinishReasonToolCalls
	case s.stopReason == types.StopReasonMaxTokens:
		reason = llm.FinishReasonLength
	}
	return llm.NewDoneEvent(reason, calls...)
}

func blockIndex(i *int32) int {
	if i == nil {
		return 0
	}
	return int(*i)
}

// convertRequest converts our ChatRequest to a ConverseStream input
func (c *Client) convertRequest(req llm.ChatRequest) (*bedrockruntime.ConverseStreamInput, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	system, rest := req.SplitSystem()
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertMessages(rest),
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		input.InferenceConfig = &types.InferenceConfiguration{Temperature: req.Temperature}
		if req.MaxTokens != nil {
			input.InferenceConfig.MaxTokens = aws.Int32(int32(*req.MaxTokens))
		}
	}

	var tools []types.Tool
	for _, tool := range req.Tools {
		if !tool.Known() || tool.Function == nil {
			continue
		}
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if tool.Function.Parameters != nil {
			m, err := schema.ToMap(tool.Function.Parameters)
			if err != nil {
				return nil, &llm.Error{Code: "invalid_tool", Message: err.Error(), Type: llm.ErrorTypeValidation}
			}
			params = m
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Function.Name),
				Description: aws.String(tool.Function.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(params)},
			},
		})
	}
	if len(tools) > 0 {
		if !c.supportsTools(model) {
			return nil, &llm.Error{
				Code:    "tools_not_supported",
				Message: "model " + model + " does not support tools",
				Type:    llm.ErrorTypeValidation,
			}
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}

	return input, nil
}

// convertMessages converts our messages to Converse messages. Tool results
// travel in user messages, and consecutive results share one message.
func convertMessages(messages []llm.ChatMessage) []types.Message {
	var out []types.Message

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			block := &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
				},
			}
			if strings.HasPrefix(msg.Content, "error:") {
				block.Value.Status = types.ToolResultStatusError
			}
			if n := len(out); n > 0 && isToolResults(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{block}})

		case llm.RoleAssistant:
			var blocks []types.ContentBlock
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.FunctionName),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
			}

		default:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})
		}
	}

	return out
}

func isToolResults(msg types.Message) bool {
	if msg.Role != types.ConversationRoleUser || len(msg.Content) == 0 {
		return false
	}
	for _, block := range msg.Content {
		if _, ok := block.(*types.ContentBlockMemberToolResult); !ok {
			return false
		}
	}
	return true
}

// GetRemote returns information about the remote client
func (c *Client) GetRemote() llm.ClientRemoteInfo {
	return llm.ClientRemoteInfo{
		Name:   c.provider,
		Status: c.health.Status(c.performHealthCheck),
	}
}

// performHealthCheck performs a simple health check on AWS Bedrock
func (c *Client) performHealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.bedrockClient.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	return err == nil
}

// GetModelInfo returns information about the model being used
func (c *Client) GetModelInfo() llm.ModelInfo {
	return llm.ModelInfo{
		Name:              c.model,
		Provider:          c.provider,
		MaxTokens:         c.getMaxTokensForModel(c.model),
		SupportsTools:     c.supportsTools(c.model),
		SupportsStreaming: true,
	}
}

// Close cleans up any resources used by the client
func (c *Client) Close() error {
	return nil
}

// getMaxTokensForModel returns the context size for the given model
func (c *Client) getMaxTokensForModel(model string) int {
	switch {
	case strings.Contains(model, "claude-3"), strings.Contains(model, "claude-sonnet-4"), strings.Contains(model, "claude-opus-4"):
		return 200000
	case strings.Contains(model, "claude-v2"):
		return 100000
	case strings.Contains(model, "nova"):
		return 300000
	case strings.Contains(model, "llama3"):
		return 128000
	case strings.Contains(model, "titan"):
		return 8000
	case strings.Contains(model, "llama"):
		return 4096
	default:
		return 4000
	}
}

// supportsTools checks if the model accepts a tool configuration in Converse
func (c *Client) supportsTools(model string) bool {
	for _, family := range []string{"claude-3", "claude-sonnet-4", "claude-opus-4", "nova", "llama3-1", "llama3-2", "mistral-large", "command-r"} {
		if strings.Contains(model, family) {
			return true
		}
	}
	return false
}

// convertError converts AWS errors to our internal error format
func convertError(err error) *llm.Error {
	if err == nil {
		return nil
	}

	var ourErr *llm.Error
	if errors.As(err, &ourErr) {
		return ourErr
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return llm.AsError(err)
	}

	code := apiErr.ErrorCode()
	status := 0
	switch code {
	case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
		status = 429
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		status = 403
	case "ResourceNotFoundException":
		status = 404
	case "ValidationException":
		status = 400
	case "ModelNotReadyException", "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
		status = 503
	}

	return &llm.Error{
		Code:       code,
		Message:    apiErr.ErrorMessage(),
		Type:       llm.TypeForStatus(status),
		StatusCode: status,
	}
}
