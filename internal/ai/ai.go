package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Completer issues a single text-completion request and returns the
// model's text response.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ProviderConfig contains common configuration for completion providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for completion provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIBadRequest indicates the provider rejected the request
	EAIBadRequest = errors.New("ai provider rejected the request")

	// EAIEmptyResponse indicates the response carried no text
	EAIEmptyResponse = errors.New("ai response contained no text")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
