package llm

import (
	"context"
	"fmt"
	"sync"
)

// Middleware observes or rewrites the traffic of a Client
type Middleware interface {
	// Name returns the middleware name for identification
	Name() string

	// ProcessRequest processes the request before it is submitted
	ProcessRequest(ctx context.Context, req *ChatRequest) (*ChatRequest, error)

	// ProcessStreamEvent processes each streamed event
	ProcessStreamEvent(ctx context.Context, req *ChatRequest, event StreamEvent) (StreamEvent, error)

	// ProcessError is told when the stream could not be opened
	ProcessError(ctx context.Context, req *ChatRequest, err error)
}

// MiddlewareChain manages an ordered chain of middleware
type MiddlewareChain struct {
	mu          sync.RWMutex
	middlewares []Middleware
}

// NewMiddlewareChain creates a chain with the given middleware
func NewMiddlewareChain(middlewares []Middleware) *MiddlewareChain {
	chain := &MiddlewareChain{}
	for _, middleware := range middlewares {
		chain.AddMiddleware(middleware)
	}
	return chain
}

// AddMiddleware adds a middleware to the end of the chain
func (c *MiddlewareChain) AddMiddleware(middleware Middleware) {
	if middleware == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, middleware)
}

// RemoveMiddleware removes a middleware by name
func (c *MiddlewareChain) RemoveMiddleware(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, middleware := range c.middlewares {
		if middleware.Name() == name {
			c.middlewares = append(c.middlewares[:i], c.middlewares[i+1:]...)
			return true
		}
	}
	return false
}

func (c *MiddlewareChain) snapshot() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()
	middlewares := make([]Middleware, len(c.middlewares))
	copy(middlewares, c.middlewares)
	return middlewares
}

// ProcessRequest runs the request through the chain in order
func (c *MiddlewareChain) ProcessRequest(ctx context.Context, req *ChatRequest) (*ChatRequest, error) {
	currentReq := req
	var err error

	for _, middleware := range c.snapshot() {
		currentReq, err = middleware.ProcessRequest(ctx, currentReq)
		if err != nil {
			return nil, fmt.Errorf("middleware %s failed: %w", middleware.Name(), err)
		}
	}
	return currentReq, nil
}

// ProcessStreamEvent runs an event through the chain. A failing middleware
// is skipped so that a broken observer cannot break the stream.
func (c *MiddlewareChain) ProcessStreamEvent(ctx context.Context, req *ChatRequest, event StreamEvent) StreamEvent {
	currentEvent := event
	for _, middleware := range c.snapshot() {
		processed, err := middleware.ProcessStreamEvent(ctx, req, currentEvent)
		if err != nil {
			continue
		}
		currentEvent = processed
	}
	return currentEvent
}

// ProcessError notifies every middleware, in reverse order
func (c *MiddlewareChain) ProcessError(ctx context.Context, req *ChatRequest, err error) {
	middlewares := c.snapshot()
	for i := len(middlewares) - 1; i >= 0; i-- {
		middlewares[i].ProcessError(ctx, req, err)
	}
}

// GetMiddlewareNames returns the names of all middleware in the chain
func (c *MiddlewareChain) GetMiddlewareNames() []string {
	middlewares := c.snapshot()
	names := make([]string, len(middlewares))
	for i, middleware := range middlewares {
		names[i] = middleware.Name()
	}
	return names
}

// MiddlewareClient wraps a Client with a middleware chain
type MiddlewareClient struct {
	client Client
	chain  *MiddlewareChain
}

// WithMiddleware wraps client so that every request and stream event passes
// through the given middleware. Wrapping a MiddlewareClient extends its chain.
func WithMiddleware(client Client, middlewares ...Middleware) Client {
	if mc, ok := client.(*MiddlewareClient); ok {
		for _, middleware := range middlewares {
			mc.chain.AddMiddleware(middleware)
		}
		return mc
	}
	return &MiddlewareClient{client: client, chain: NewMiddlewareChain(middlewares)}
}

// StreamChat implements Client
func (m *MiddlewareClient) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	processedReq, err := m.chain.ProcessRequest(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("middleware request processing failed: %w", err)
	}

	events, err := m.client.StreamChat(ctx, *processedReq)
	if err != nil {
		m.chain.ProcessError(ctx, processedReq, err)
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for event := range events {
			if !Send(ctx, out, m.chain.ProcessStreamEvent(ctx, processedReq, event)) {
				return
			}
		}
	}()
	return out, nil
}

// GetRemote implements Client
func (m *MiddlewareClient) GetRemote() ClientRemoteInfo {
	return m.client.GetRemote()
}

// GetModelInfo implements Client
func (m *MiddlewareClient) GetModelInfo() ModelInfo {
	return m.client.GetModelInfo()
}

// Close implements Client
func (m *MiddlewareClient) Close() error {
	return m.client.Close()
}

// GetMiddlewareNames returns the names of all middleware in the chain
func (m *MiddlewareClient) GetMiddlewareNames() []string {
	return m.chain.GetMiddlewareNames()
}
