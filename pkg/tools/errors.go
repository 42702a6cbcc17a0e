package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is matched by *UnknownToolError
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is matched by *ArgumentError
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrHandlerTimeout is wrapped by a *HandlerError when a handler overruns
	ErrHandlerTimeout = errors.New("tool handler timed out")
	// ErrDuplicateTool is returned when registering a name twice
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrNilHandler is returned when registering without a handler
	ErrNilHandler = errors.New("tool handler is nil")
)

// UnknownToolError reports a call to a tool that is not registered. The name
// comes from the model, so this is an ordinary outcome, not a bug.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}

// ArgumentError reports a missing or malformed argument. Argument is the
// dotted path of the offending property, empty when the whole argument
// object is at fault.
type ArgumentError struct {
	Tool     string
	Argument string
	Reason   string
}

func (e *ArgumentError) Error() string {
	if e.Argument == "" {
		return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %q: argument %q: %s", e.Tool, e.Argument, e.Reason)
}

func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArguments
}

// HandlerError wraps a failure reported by, or recovered from, a handler
type HandlerError struct {
	Tool     string
	Err      error
	Panicked bool
}

func (e *HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("tool %q panicked: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// panicError carries a recovered panic value
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprint(p.value)
}
