package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionBusy is returned when a session already has a run in flight
	ErrSessionBusy = errors.New("session has a run in progress")
	// ErrMaxTurns is returned when a run exceeds the configured number of turns
	ErrMaxTurns = errors.New("maximum number of turns exceeded")
	// ErrTurnTimeout is wrapped by a *TurnError when a turn overruns
	ErrTurnTimeout = errors.New("turn timed out")
)

// StreamError reports a stream that could not be opened, reported an error
// event, or ended before its final event. It ends the run and is never
// retried.
type StreamError struct {
	Turn int
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("turn %d: stream failed: %v", e.Turn, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// TurnError reports a turn that did not complete in time
type TurnError struct {
	Turn int
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %d: %v", e.Turn, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
