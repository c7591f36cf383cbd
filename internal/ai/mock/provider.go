package mock

import (
	"context"
	"log/slog"
	"sync"
)

// Provider is a mock completion provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	Response string
	Error    error

	// Call tracking for testing
	Calls   int
	Prompts []string
}

// New creates a new mock completion provider
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		logger: logger.With("component", "mock_completer"),
	}
}

// Complete records the prompt and returns the configured response. With no
// response configured it answers with an empty JSON object, which the
// corrector treats as "nothing found".
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls++
	p.Prompts = append(p.Prompts, prompt)

	if p.Error != nil {
		return "", p.Error
	}
	if p.Response != "" {
		return p.Response, nil
	}

	p.logger.Debug("returning canned completion", "prompt_chars", len(prompt))
	return "{}", nil
}

func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls
}
