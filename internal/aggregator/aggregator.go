package aggregator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/lmpc-scraper/internal/metrics"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/maltedev/lmpc-scraper/internal/ocr"
)

// OCRSeparator joins per-image OCR text.
const OCRSeparator = "\n---\n"

const maxImageSize = 15 << 20

type ImageLoader interface {
	Load(ctx context.Context, url string) ([]byte, error)
}

type HTTPImageLoader struct {
	client    *http.Client
	userAgent string
}

func NewHTTPImageLoader(client *http.Client, userAgent string) *HTTPImageLoader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPImageLoader{client: client, userAgent: userAgent}
}

func (l *HTTPImageLoader) Load(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

type Options struct {
	MaxImages    int
	Workers      int
	ImageTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxImages:    10,
		Workers:      4,
		ImageTimeout: 15 * time.Second,
	}
}

type Aggregator struct {
	loader ImageLoader
	ocr    ocr.Provider
	opts   Options
	logger *slog.Logger
}

func New(loader ImageLoader, provider ocr.Provider, opts Options, logger *slog.Logger) *Aggregator {
	if provider == nil {
		provider = ocr.Nop{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		loader: loader,
		ocr:    provider,
		opts:   opts,
		logger: logger.With("component", "aggregator"),
	}
}

// Aggregate returns the title, page text and (when any image produced text)
// OCR text sources for record, in that order. It stores the merged OCR text
// on the record.
func (a *Aggregator) Aggregate(ctx context.Context, record *models.ProductRecord, imageURLs []string) []models.TextSource {
	sources := []models.TextSource{
		{Label: models.SourceTitle, Text: record.Title},
		{Label: models.SourcePageText, Text: record.FullPageText},
	}

	text := a.ocrImages(ctx, imageURLs)
	if text != "" {
		record.OCRText = text
		sources = append(sources, models.TextSource{Label: models.SourceOCRText, Text: text})
	}
	return sources
}

func (a *Aggregator) ocrImages(ctx context.Context, imageURLs []string) string {
	if a.loader == nil || len(imageURLs) == 0 || a.opts.MaxImages == 0 {
		return ""
	}
	if _, nop := a.ocr.(ocr.Nop); nop {
		return ""
	}

	urls := imageURLs
	if a.opts.MaxImages > 0 && len(urls) > a.opts.MaxImages {
		urls = urls[:a.opts.MaxImages]
	}

	results := make([]string, len(urls))

	// Workers never return errors; a failed image is skipped.
	var g errgroup.Group
	g.SetLimit(a.opts.Workers)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = a.ocrImage(ctx, u)
			return nil
		})
	}
	g.Wait()

	texts := make([]string, 0, len(results))
	for _, r := range results {
		if r != "" {
			texts = append(texts, r)
		}
	}

	a.logger.Debug("ocr finished", "images", len(urls), "with_text", len(texts))
	return strings.Join(texts, OCRSeparator)
}

func (a *Aggregator) ocrImage(ctx context.Context, url string) string {
	if ctx.Err() != nil {
		return ""
	}

	if a.opts.ImageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.ImageTimeout)
		defer cancel()
	}

	data, err := a.loader.Load(ctx, url)
	if err != nil {
		metrics.OCRImage(false)
		a.logger.Debug("skipping image", "url", url, "error", err)
		return ""
	}

	text, ok := a.ocr.ExtractText(ctx, data)
	metrics.OCRImage(ok)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

// Combined renders sources as one labelled document for prompts and storage.
func Combined(sources []models.TextSource) string {
	labels := map[string]string{
		models.SourceTitle:    "Title",
		models.SourcePageText: "Page Content",
		models.SourceOCRText:  "OCR Text",
	}

	var parts []string
	for _, s := range sources {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		label, ok := labels[s.Label]
		if !ok {
			label = s.Label
		}
		parts = append(parts, label+": "+t)
	}
	return strings.Join(parts, "\n\n")
}
