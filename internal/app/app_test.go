package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/ai/anthropic"
	"github.com/maltedev/lmpc-scraper/internal/ai/mock"
	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/maltedev/lmpc-scraper/internal/corrector"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		hidden  slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"WARN", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(io.Discard, config.LoggingConfig{Level: tt.level, Format: "text"})
			assert.True(t, logger.Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Enabled(context.Background(), tt.hidden))
		})
	}
}

func TestNewCompleter(t *testing.T) {
	c, err := NewCompleter(config.CorrectorConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewCompleter(config.CorrectorConfig{Provider: "mock"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &mock.Provider{}, c)

	c, err = NewCompleter(config.CorrectorConfig{Provider: "anthropic", APIKey: "test-key"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Provider{}, c)

	_, err = NewCompleter(config.CorrectorConfig{Provider: "anthropic"}, nil)
	assert.Error(t, err)

	_, err = NewCompleter(config.CorrectorConfig{Provider: "oracle"}, nil)
	assert.Error(t, err)
}

func TestNewCompleterSendsOneRequestPerCorrection(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	completer, err := NewCompleter(config.CorrectorConfig{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Timeout:  5 * time.Second,
	}, nil)
	require.NoError(t, err)

	record := models.NewProductRecord("https://shop.example/p/tea", "generic")
	report := &models.ValidationReport{
		ViolationsCount: 1,
		RuleResults: []models.RuleResult{
			{RuleID: "LM-01-MANUFACTURER", Field: models.FieldManufacturer, Violated: true, Details: "Manufacturer details are missing."},
		},
	}

	c := corrector.New(completer, corrector.Options{}, nil)
	patched, res := c.Correct(context.Background(), record, report, "Assam Tea 250g. Packed by Acme Foods, Pune.")

	assert.True(t, res.Attempted)
	assert.Error(t, res.Err)
	assert.Empty(t, res.Applied)
	assert.Same(t, record, patched)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CORRECTOR_PROVIDER", "mock")
	t.Setenv("BROWSER_ENABLED", "false")
	t.Setenv("FETCH_DEFAULT_INTERVAL", "1ms")
	t.Setenv("STORAGE_DIR", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	for key, p := range cfg.Platforms {
		p.MinInterval = time.Millisecond
		cfg.Platforms[key] = p
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuild_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Assam Tea</title></head><body>
			<h1>Assam Tea</h1>
			<p>Net Quantity: 250g</p><p>MRP Rs. 299</p><p>Made in India</p>
		</body></html>`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Results)
	assert.Nil(t, a.Relay)
	require.NotNil(t, a.Store)

	url := srv.URL + "/p/tea?utm=1"
	record, report, err := a.Pipeline.Process(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "OK", record.FetchStatus)
	assert.Equal(t, models.StatusViolation, report.OverallStatus)
	require.NotNil(t, record.NetQuantity)

	stored, ok := a.Store.Get(srv.URL + "/p/tea")
	require.True(t, ok)
	assert.Equal(t, report.ViolationsCount, stored.Report.ViolationsCount)
	assert.FileExists(t, filepath.Join(cfg.Storage.Dir, resultsFile))

	// No relay configured; returns at once.
	a.RunRelay(context.Background())
}

func TestBrowserOptions(t *testing.T) {
	opts := browserOptions(config.BrowserConfig{Headless: false, Timeout: 5 * time.Second, Locale: "hi-IN"})
	assert.False(t, opts.Headless)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, "hi-IN", opts.Locale)
	assert.Equal(t, 1920, opts.ViewportWidth)
}
