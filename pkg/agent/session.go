package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inercia/go-toolloop/pkg/llm"
)

// HistoryStore keeps the ordered message history of each session
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, msg llm.ChatMessage) error
	List(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
}

// Session is a handle on one conversation of an Agent. Sessions with the
// same id share their history.
type Session struct {
	id    string
	agent *Agent
}

// NewSession returns a handle for the conversation id, or for a fresh
// random id when none is given
func (a *Agent) NewSession(id ...string) *Session {
	sid := ""
	if len(id) > 0 {
		sid = id[0]
	}
	if sid == "" {
		sid = uuid.NewString()
	}
	return &Session{id: sid, agent: a}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Append adds messages to the history without running the model. It fails
// with ErrSessionBusy while a run of the session is in flight.
func (s *Session) Append(ctx context.Context, msgs ...llm.ChatMessage) error {
	if s.agent.running(s.id) {
		return fmt.Errorf("%w: %s", ErrSessionBusy, s.id)
	}
	for _, msg := range msgs {
		if err := s.agent.store.Append(ctx, s.id, msg); err != nil {
			return err
		}
	}
	return nil
}

// History returns the messages of the session, oldest first
func (s *Session) History(ctx context.Context) ([]llm.ChatMessage, error) {
	return s.agent.store.List(ctx, s.id)
}

// Clear drops the session history. It fails with ErrSessionBusy while a
// run of the session is in flight.
func (s *Session) Clear(ctx context.Context) error {
	if s.agent.running(s.id) {
		return fmt.Errorf("%w: %s", ErrSessionBusy, s.id)
	}
	return s.agent.store.Clear(ctx, s.id)
}
