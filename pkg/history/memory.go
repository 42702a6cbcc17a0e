package history

import (
	"context"
	"sync"

	"github.com/inercia/go-toolloop/pkg/llm"
)

// Memory is a process-local history store. It is the default store and is
// safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]llm.ChatMessage
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]llm.ChatMessage)}
}

// Append adds msg at the end of the session history
func (m *Memory) Append(ctx context.Context, sessionID string, msg llm.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrEmptySessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], msg.Clone())
	return nil
}

// List returns a copy of the session history, oldest first
func (m *Memory) List(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.sessions[sessionID]
	out := make([]llm.ChatMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out, nil
}

// Clear drops the session history
func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Sessions returns the ids that currently hold messages
func (m *Memory) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
