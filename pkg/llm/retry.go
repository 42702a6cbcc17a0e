// Package llm provides retry functionality for opening streams with exponential backoff.
//
// Only the opening of a stream is retried: once events are flowing, a broken
// stream is reported to the caller as is. Callers that drive multi-turn
// conversations decide themselves whether to resubmit.
//
//	client := llm.WithRetry(base, llm.RetryConfig{
//		MaxRetries:         5,
//		BaseDelay:          1 * time.Second,
//		RetryOnStatusCodes: []int{429, 502, 503},
//	})
package llm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"time"
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

// RetryConfig defines configuration options for the retry mechanism
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3).
	// Total requests = MaxRetries + 1 (original attempt).
	MaxRetries int

	// BaseDelay is the initial delay between retries (default: 1 second)
	BaseDelay time.Duration

	// MaxDelay caps the maximum delay between retries (default: 60 seconds)
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each retry (default: 2.0)
	BackoffFactor float64

	// Jitter multiplies each delay by a random factor between 0.5 and 1.5
	Jitter bool

	// RetryOnStatusCodes specifies exact HTTP status codes to retry on.
	// If empty, 429 and 5xx are retried.
	RetryOnStatusCodes []int

	// RetryOnErrorTypes specifies exact error types to retry on.
	// If empty, rate limit errors are retried.
	RetryOnErrorTypes []string
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// RetryClient retries failed attempts to open a stream
type RetryClient struct {
	Client
	config RetryConfig
}

// WithRetry wraps client so that StreamChat retries transient failures
func WithRetry(client Client, config ...RetryConfig) *RetryClient {
	cfg := DefaultRetryConfig()
	if len(config) > 0 {
		cfg = config[0]
		if cfg.MaxRetries <= 0 {
			cfg.MaxRetries = 3
		}
		if cfg.BaseDelay <= 0 {
			cfg.BaseDelay = 1 * time.Second
		}
		if cfg.MaxDelay <= 0 {
			cfg.MaxDelay = 60 * time.Second
		}
		if cfg.BackoffFactor <= 0 {
			cfg.BackoffFactor = 2.0
		}
	}
	return &RetryClient{Client: client, config: cfg}
}

// StreamChat opens the stream, retrying retryable errors with backoff
func (r *RetryClient) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		events, err := r.Client.StreamChat(ctx, req)
		if err == nil {
			return events, nil
		}
		lastErr = err

		if attempt == r.config.MaxRetries || !r.isRetryableError(err) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return nil, lastErr
}

// isRetryableError determines if an error should trigger a retry
func (r *RetryClient) isRetryableError(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return false
	}

	if len(r.config.RetryOnStatusCodes) == 0 && len(r.config.RetryOnErrorTypes) == 0 {
		return llmErr.Retryable()
	}

	for _, code := range r.config.RetryOnStatusCodes {
		if llmErr.StatusCode == code {
			return true
		}
	}
	for _, errorType := range r.config.RetryOnErrorTypes {
		if llmErr.Type == errorType {
			return true
		}
	}
	return false
}

// calculateDelay computes the delay for a given retry attempt using exponential backoff
func (r *RetryClient) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.BackoffFactor, float64(attempt))

	if r.config.Jitter {
		randomValue, err := secureRandomFloat64()
		if err != nil {
			randomValue = 1.0
		}
		delay *= 0.5 + randomValue
	}

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	return time.Duration(delay)
}
