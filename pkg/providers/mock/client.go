package mock

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inercia/go-toolloop/pkg/llm"
)

// secureRandomFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureRandomFloat64() (float64, error) {
	var bytes [8]byte
	_, err := rand.Read(bytes[:])
	if err != nil {
		return 0, err
	}
	return float64(binary.BigEndian.Uint64(bytes[:])) / float64(^uint64(0)), nil
}

// turn is one scripted response
type turn struct {
	openErr error
	events  []llm.StreamEvent
	// hang keeps the stream open after the events until the request context ends
	hang bool
}

// Client implements llm.Client for tests. Responses are scripted per turn
// and consumed in order; once the script is exhausted the client falls back
// to a generated response.
type Client struct {
	mu sync.Mutex

	modelInfo   llm.ModelInfo
	turns       []turn
	turnIndex   int
	callLog     []llm.ChatRequest
	latency     time.Duration
	eventDelay  time.Duration
	failureRate float64

	health llm.HealthCache
}

// NewClient creates a new mock client
func NewClient(modelName, provider string) (*Client, error) {
	if modelName == "" {
		modelName = "mock-model"
	}
	if provider == "" {
		provider = "mock"
	}
	return &Client{
		modelInfo: llm.ModelInfo{
			Name:              modelName,
			Provider:          provider,
			MaxTokens:         4096,
			SupportsTools:     true,
			SupportsStreaming: true,
		},
	}, nil
}

// StreamChat replays the next scripted turn
func (m *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	m.mu.Lock()
	m.callLog = append(m.callLog, cloneRequest(req))
	latency, delay, failureRate := m.latency, m.eventDelay, m.failureRate
	var next *turn
	if m.turnIndex < len(m.turns) {
		next = &m.turns[m.turnIndex]
		m.turnIndex++
	}
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failureRate > 0 {
		randomValue, err := secureRandomFloat64()
		if err != nil {
			randomValue = 1
		}
		if randomValue < failureRate {
			return nil, &llm.Error{
				Code:    "mock_random_failure",
				Message: "Simulated random failure",
				Type:    llm.ErrorTypeAPI,
			}
		}
	}

	if next == nil {
		return m.send(ctx, generateResponse(req), false, delay), nil
	}
	if next.openErr != nil {
		return nil, next.openErr
	}
	return m.send(ctx, next.events, next.hang, delay), nil
}

func (m *Client) send(ctx context.Context, events []llm.StreamEvent, hang bool, delay time.Duration) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent)

	go func() {
		defer close(ch)
		for _, ev := range events {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			if !llm.Send(ctx, ch, ev) {
				return
			}
		}
		if hang {
			<-ctx.Done()
		}
	}()

	return ch
}

// generateResponse answers unscripted requests: a summary after a tool
// result, an echo otherwise
func generateResponse(req llm.ChatRequest) []llm.StreamEvent {
	var last llm.ChatMessage
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1]
	}

	var text string
	switch last.Role {
	case llm.RoleTool:
		text = fmt.Sprintf("Based on the tool result: %s, I can provide you with the following information.", last.Content)
	case llm.RoleUser:
		text = fmt.Sprintf("I understand you're asking about: %s", last.Content)
	default:
		text = "This is a streamed mock response."
	}
	return CreateWordByWordStream(text)
}

func cloneRequest(req llm.ChatRequest) llm.ChatRequest {
	c := req
	c.Messages = make([]llm.ChatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		c.Messages[i] = msg.Clone()
	}
	c.Tools = append(c.Tools[:0:0], req.Tools...)
	return c
}

// GetRemote reports the mock as always healthy
func (m *Client) GetRemote() llm.ClientRemoteInfo {
	return llm.ClientRemoteInfo{
		Name:   "mock",
		Status: m.health.Status(func() bool { return true }),
	}
}

// GetModelInfo returns the configured model info
func (m *Client) GetModelInfo() llm.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelInfo
}

// Close does nothing for the mock client
func (m *Client) Close() error {
	return nil
}

// Script builders

// WithStreamResponse queues a turn that replays events verbatim. A script
// without a done event makes the stream end prematurely.
func (m *Client) WithStreamResponse(events ...llm.StreamEvent) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn{events: events})
	return m
}

// WithTextResponse queues a turn that streams text word by word
func (m *Client) WithTextResponse(text string) *Client {
	return m.WithStreamResponse(CreateWordByWordStream(text)...)
}

// WithToolCallResponse queues a turn that streams text and then requests calls
func (m *Client) WithToolCallResponse(text string, calls ...llm.ToolCall) *Client {
	return m.WithStreamResponse(CreateToolCallStream(text, calls...)...)
}

// WithError queues a turn whose stream fails with an error event
func (m *Client) WithError(code, message, errorType string) *Client {
	return m.WithStreamResponse(llm.NewErrorEvent(&llm.Error{Code: code, Message: message, Type: errorType}))
}

// WithOpenError queues a turn whose stream cannot be opened
func (m *Client) WithOpenError(err error) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn{openErr: err})
	return m
}

// WithHangingResponse queues a turn that streams events and then stays open
// until the request is cancelled
func (m *Client) WithHangingResponse(events ...llm.StreamEvent) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn{events: events, hang: true})
	return m
}

// WithLatency delays the opening of every stream
func (m *Client) WithLatency(d time.Duration) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// WithEventDelay waits before every streamed event
func (m *Client) WithEventDelay(d time.Duration) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventDelay = d
	return m
}

// WithFailureRate configures random open failures (0.0 to 1.0)
func (m *Client) WithFailureRate(rate float64) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureRate = rate
	return m
}

// WithModelCapabilities configures the model's capabilities
func (m *Client) WithModelCapabilities(maxTokens int, supportsTools, supportsStreaming bool) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelInfo.MaxTokens = maxTokens
	m.modelInfo.SupportsTools = supportsTools
	m.modelInfo.SupportsStreaming = supportsStreaming
	return m
}

// Call log

// GetCallLog returns all requests made to this client
func (m *Client) GetCallLog() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.callLog...)
}

// GetLastCall returns the most recent request, or nil
func (m *Client) GetLastCall() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.callLog) == 0 {
		return nil
	}
	last := m.callLog[len(m.callLog)-1]
	return &last
}

// CallCount returns the number of requests made
func (m *Client) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callLog)
}

// Reset clears the script and the call log
func (m *Client) Reset() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.turnIndex = 0
	m.callLog = nil
	return m
}

// Stream builders

// CreateWordByWordStream streams text one word at a time and finishes
func CreateWordByWordStream(text string) []llm.StreamEvent {
	events := wordEvents(text)
	return append(events, llm.NewDoneEvent(llm.FinishReasonStop))
}

// CreateToolCallStream streams text and finishes requesting calls. Calls
// without an id get a fresh one.
func CreateToolCallStream(text string, calls ...llm.ToolCall) []llm.StreamEvent {
	events := wordEvents(text)
	withIDs := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		withIDs[i] = call
		if withIDs[i].ID == "" {
			withIDs[i].ID = "call-" + uuid.NewString()
		}
	}
	return append(events, llm.NewDoneEvent(llm.FinishReasonToolCalls, withIDs...))
}

func wordEvents(text string) []llm.StreamEvent {
	if text == "" {
		return nil
	}
	words := strings.SplitAfter(text, " ")
	events := make([]llm.StreamEvent, 0, len(words)+1)
	for _, w := range words {
		if w != "" {
			events = append(events, llm.NewDeltaEvent(w))
		}
	}
	return events
}
