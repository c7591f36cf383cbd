package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/ai"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the Anthropic API
	DefaultBaseURL = "https://api.anthropic.com"

	// MessagesPath is the Messages API endpoint
	MessagesPath = "/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens bounds the completion length
	DefaultMaxTokens = 1024
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int
	RequestsPerSecond float64
	ProviderConfig    ai.ProviderConfig
}

// Provider implements ai.Completer using Anthropic's Messages API
type Provider struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a new Anthropic completion provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "anthropic"),
	}, nil
}

// Complete sends prompt as a single user message and returns the text of
// the first text block in the reply.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	startTime := time.Now()

	body, err := json.Marshal(apiRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
		Messages: []apiMessage{
			{
				Role:    "user",
				Content: []apiContent{{Type: "text", Text: prompt}},
			},
		},
	})
	if err != nil {
		return "", ai.WrapError("build request", fmt.Errorf("marshal request: %w", err))
	}

	resp, err := p.executeWithRetry(ctx, body)
	if err != nil {
		return "", ai.WrapError("execute request", err)
	}

	for _, content := range resp.Content {
		if content.Type == "text" && strings.TrimSpace(content.Text) != "" {
			p.logger.Info("completion finished",
				"model", resp.Model,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
				"duration", time.Since(startTime),
			)
			return content.Text, nil
		}
	}

	return "", ai.WrapError("parse response", ai.EAIEmptyResponse)
}

// executeWithRetry executes the request with exponential backoff retry
func (p *Provider) executeWithRetry(ctx context.Context, body []byte) (*apiResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := p.executeRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Only retry on retryable errors
		if !ai.IsRetryable(err) {
			return nil, err
		}

		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// base * 2^(attempt-1)
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, ai.EAITimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network errors are typically retryable
		return nil, ai.EAIUnavailable
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to domain errors
func (p *Provider) mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ai.EAIBadRequest, errResp.Error.Message)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

// API request/response types

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []apiContentOutput `json:"content"`
	Model   string             `json:"model"`
	Usage   apiUsage           `json:"usage"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
