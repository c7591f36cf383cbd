package ai

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Rate limit", EAIRateLimit, true},
		{"Timeout", EAITimeout, true},
		{"Unavailable", EAIUnavailable, true},
		{"Wrapped unavailable", fmt.Errorf("execute: %w", EAIUnavailable), true},
		{"Unauthorized", EAIUnauthorized, false},
		{"Bad request", EAIBadRequest, false},
		{"Other", errors.New("boom"), false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("complete", nil))

	err := WrapError("complete", EAITimeout)
	assert.ErrorIs(t, err, EAITimeout)
	assert.Equal(t, "ai complete: ai request timed out", err.Error())
}
