// Client interfaces and core streaming functionality
package llm

import (
	"context"
	"sync"
	"time"
)

// DefaultHealthCheckInterval defines how often health checks should be refreshed
// to avoid excessive API calls to remote providers
const DefaultHealthCheckInterval = 5 * time.Minute

// ClientRemoteInfo represents information about a remote client
type ClientRemoteInfo struct {
	Name   string
	Status *ClientRemoteInfoStatus
}

// ClientRemoteInfoStatus represents the status of a remote client
type ClientRemoteInfoStatus struct {
	Healthy     *bool
	LastChecked *time.Time
}

// Client is the backend submit interface. StreamChat opens an incremental
// response; the returned channel is closed when the stream ends, and its
// last event is either a done or an error event. Implementations stop
// sending when ctx is cancelled.
type Client interface {
	// StreamChat submits the conversation and the available tools
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)

	// GetRemote returns information about the remote endpoint
	GetRemote() ClientRemoteInfo

	// GetModelInfo returns information about the model being used
	GetModelInfo() ModelInfo

	// Close cleans up any resources used by the client
	Close() error
}

// HealthCache remembers the result of the last remote health check, so that
// GetRemote does not hit the network on every call
type HealthCache struct {
	mu          sync.Mutex
	lastChecked *time.Time
	healthy     *bool
}

// Status returns the cached status, calling check when the cache is stale
func (h *HealthCache) Status(check func() bool) *ClientRemoteInfoStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if h.lastChecked == nil || now.Sub(*h.lastChecked) > DefaultHealthCheckInterval {
		healthy := check()
		h.healthy = &healthy
		h.lastChecked = &now
	}
	return &ClientRemoteInfoStatus{Healthy: h.healthy, LastChecked: h.lastChecked}
}

// Send delivers ev unless ctx is done first. It reports whether the event
// was delivered.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
