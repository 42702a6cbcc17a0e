// Error types and handling
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Error types shared by all providers
const (
	ErrorTypeAPI            = "api_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeValidation     = "validation_error"
	ErrorTypeStream         = "stream_error"
	ErrorTypeNetwork        = "network_error"
)

// Error represents a standardized LLM error
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Retryable reports whether the failure is likely transient
func (e *Error) Retryable() bool {
	return e.Type == ErrorTypeRateLimit || e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// NewStreamError creates the error reported when a stream breaks mid-response
func NewStreamError(format string, args ...any) *Error {
	return &Error{
		Code:    "stream_failed",
		Message: fmt.Sprintf(format, args...),
		Type:    ErrorTypeStream,
	}
}

// TypeForStatus maps an HTTP status code to an error type
func TypeForStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return ErrorTypeAuthentication
	case status == 429:
		return ErrorTypeRateLimit
	case status >= 400 && status < 500:
		return ErrorTypeValidation
	default:
		return ErrorTypeAPI
	}
}

// AsError normalizes any error into an *Error. Context errors keep their
// identity in the message so callers can still tell cancellation apart.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Code: "cancelled", Message: err.Error(), Type: ErrorTypeStream}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: "timeout", Message: err.Error(), Type: ErrorTypeNetwork}
	default:
		return &Error{Code: "unknown_error", Message: err.Error(), Type: ErrorTypeAPI}
	}
}
