// Package app assembles the compliance pipeline and its sinks from
// configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/maltedev/lmpc-scraper/internal/aggregator"
	"github.com/maltedev/lmpc-scraper/internal/ai"
	"github.com/maltedev/lmpc-scraper/internal/ai/anthropic"
	"github.com/maltedev/lmpc-scraper/internal/ai/mock"
	"github.com/maltedev/lmpc-scraper/internal/browser"
	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/maltedev/lmpc-scraper/internal/corrector"
	"github.com/maltedev/lmpc-scraper/internal/database"
	"github.com/maltedev/lmpc-scraper/internal/events"
	"github.com/maltedev/lmpc-scraper/internal/extractor"
	"github.com/maltedev/lmpc-scraper/internal/fetcher"
	"github.com/maltedev/lmpc-scraper/internal/ocr"
	"github.com/maltedev/lmpc-scraper/internal/pipeline"
	"github.com/maltedev/lmpc-scraper/internal/ratelimit"
	"github.com/maltedev/lmpc-scraper/internal/rules"
	"github.com/maltedev/lmpc-scraper/internal/storage"
	"github.com/redis/go-redis/v9"
)

const resultsFile = "results.json"

// NewLogger builds a logger writing to w from the logging config.
func NewLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewCompleter returns the completion provider named by cfg.Provider, or
// nil when correction is disabled.
func NewCompleter(cfg config.CorrectorConfig, logger *slog.Logger) (ai.Completer, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "mock":
		return mock.New(logger), nil
	case "anthropic":
		// A correction is one paid request; a failed call means no correction.
		p, err := anthropic.New(anthropic.Config{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			RequestsPerSecond: cfg.RequestsPerSecond,
			ProviderConfig:    ai.ProviderConfig{MaxRetries: 1, RequestTimeout: cfg.Timeout},
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown corrector provider: %s", cfg.Provider)
	}
}

// App holds the assembled pipeline and everything that must be closed on
// shutdown.
type App struct {
	Pipeline *pipeline.Orchestrator
	Store    *storage.FileStore
	DB       *database.DB
	Results  *database.ResultRepository
	Relay    *database.Relay

	browser *browser.Lazy
	redis   *redis.Client
	logger  *slog.Logger
}

// Build wires every stage. The database, Redis relay and browser fallback
// are only started when enabled in cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	sinks, err := a.openSinks(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	completer, err := NewCompleter(cfg.Corrector, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	intervals := config.Intervals(cfg.Platforms)
	var limiter ratelimit.RateLimiter = ratelimit.NewKeyedLimiter(cfg.Fetcher.DefaultInterval, intervals)
	if cfg.Fetcher.Adaptive {
		limiter = ratelimit.NewAdaptiveLimiter(cfg.Fetcher.DefaultInterval, intervals)
	}

	var renderer fetcher.Renderer
	if cfg.Browser.Enabled {
		a.browser = browser.NewLazy(browserOptions(cfg.Browser), logger)
		renderer = a.browser
	}

	fetch := fetcher.New(fetcher.Options{
		MaxRetries:      cfg.Fetcher.MaxRetries,
		FallbackTimeout: cfg.Fetcher.FallbackTimeout,
		UserAgents:      cfg.Fetcher.UserAgents,
		Platforms:       cfg.Platforms,
		Limiter:         limiter,
		Renderer:        renderer,
	}, logger)

	var provider ocr.Provider = ocr.Nop{}
	var loader aggregator.ImageLoader
	if cfg.OCR.Endpoint != "" {
		provider = ocr.NewHTTPProvider(cfg.OCR.Endpoint, cfg.OCR.Timeout, logger)
		var ua string
		if len(cfg.Fetcher.UserAgents) > 0 {
			ua = cfg.Fetcher.UserAgents[0]
		}
		loader = aggregator.NewHTTPImageLoader(&http.Client{Timeout: cfg.OCR.ImageTimeout}, ua)
	}

	var sink pipeline.Sink
	if len(sinks) > 0 {
		sink = sinks
	}

	orch, err := pipeline.New(pipeline.Deps{
		Fetcher: fetch,
		Aggregator: aggregator.New(loader, provider, aggregator.Options{
			MaxImages:    cfg.OCR.MaxImages,
			Workers:      cfg.OCR.Workers,
			ImageTimeout: cfg.OCR.ImageTimeout,
		}, logger),
		Extractor: extractor.New(logger),
		Validator: rules.NewDefaultEngine(logger),
		Corrector: corrector.New(completer, corrector.Options{
			PromptChars: cfg.Corrector.PromptChars,
			Timeout:     cfg.Corrector.Timeout,
		}, logger),
		Sink: sink,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = orch

	logger.Info("pipeline ready",
		"corrector", cfg.Corrector.Provider,
		"ocr", cfg.OCR.Endpoint != "",
		"browser_fallback", cfg.Browser.Enabled,
		"database", a.DB != nil,
		"relay", a.Relay != nil,
	)
	return a, nil
}

func (a *App) openSinks(ctx context.Context, cfg *config.Config) (pipeline.MultiSink, error) {
	var sinks pipeline.MultiSink

	if cfg.Storage.Dir != "" {
		store, err := storage.NewFileStore(filepath.Join(cfg.Storage.Dir, resultsFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open result store: %w", err)
		}
		a.Store = store
		sinks = append(sinks, store)
	}

	if !cfg.Database.Enabled {
		return sinks, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if err := db.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.Results = database.NewResultRepository(db)
	sinks = append(sinks, events.NewPublisher(a.Results, cfg.Redis.Stream, a.logger))

	if !cfg.Redis.Enabled {
		return sinks, nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Relay = database.NewRelay(database.NewOutboxRepository(db), a.redis, a.logger, database.RelayConfig{
		PollInterval: cfg.Redis.PollInterval,
		BatchSize:    cfg.Redis.BatchSize,
	})

	return sinks, nil
}

// RunRelay forwards outbox events until ctx ends. It returns immediately
// when no relay is configured.
func (a *App) RunRelay(ctx context.Context) {
	if a.Relay == nil {
		return
	}
	if err := a.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("relay stopped with error", "error", err)
	}
}

func (a *App) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("failed to close browser", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func browserOptions(cfg config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Headless
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts.ViewportWidth = cfg.ViewportWidth
		opts.ViewportHeight = cfg.ViewportHeight
	}
	if cfg.AcceptLanguage != "" {
		opts.AcceptLanguage = cfg.AcceptLanguage
	}
	if cfg.TimezoneID != "" {
		opts.TimezoneID = cfg.TimezoneID
	}
	if cfg.Locale != "" {
		opts.Locale = cfg.Locale
	}
	if cfg.SettleDelay > 0 {
		opts.SettleDelay = cfg.SettleDelay
	}
	return opts
}
