package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider turns image bytes into text. Implementations never fail loudly:
// unreadable images and transport errors report ok=false.
type Provider interface {
	ExtractText(ctx context.Context, image []byte) (text string, ok bool)
}

// Nop is the provider used when no OCR service is configured.
type Nop struct{}

func (Nop) ExtractText(ctx context.Context, image []byte) (string, bool) {
	return "", false
}

// HTTPProvider posts raw image bytes to an OCR service that answers with
// {"text": "..."}.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPProvider(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "ocr"),
	}
}

type response struct {
	Text string `json:"text"`
}

func (p *HTTPProvider) ExtractText(ctx context.Context, image []byte) (string, bool) {
	if len(image) == 0 {
		return "", false
	}

	text, err := p.extract(ctx, image)
	if err != nil {
		p.logger.Debug("ocr failed", "error", err, "bytes", len(image))
		return "", false
	}

	text = strings.TrimSpace(text)
	return text, text != ""
}

func (p *HTTPProvider) extract(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ocr service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ocr response: %w", err)
	}
	return out.Text, nil
}
