package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/maltedev/lmpc-scraper/internal/metrics"
	"github.com/maltedev/lmpc-scraper/internal/ratelimit"
)

type Status string

const (
	StatusOK        Status = "OK"
	StatusBlocked   Status = "BLOCKED"
	StatusTimeout   Status = "TIMEOUT"
	StatusConnError Status = "CONN_ERROR"
	StatusHTTPError Status = "HTTP_ERROR"
)

const maxBodySize = 10 << 20

// Outcome is the result of one logical page fetch. HTTPCode is 0 when no
// response was received.
type Outcome struct {
	Status       Status
	Body         []byte
	HTTPCode     int
	Attempts     int
	UsedFallback bool
	Platform     string
}

func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// Renderer performs a full browser render of a page.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (html []byte, status int, err error)
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	MaxRetries      int
	FallbackTimeout time.Duration
	UserAgents      []string
	Platforms       map[string]config.Platform
	Client          *http.Client
	Limiter         ratelimit.RateLimiter
	Renderer        Renderer
	Sleep           SleepFunc
}

type Fetcher struct {
	maxRetries      int
	fallbackTimeout time.Duration
	userAgents      []string
	platforms       map[string]config.Platform
	client          *http.Client
	limiter         ratelimit.RateLimiter
	renderer        Renderer
	sleep           SleepFunc
	logger          *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		maxRetries:      opts.MaxRetries,
		fallbackTimeout: opts.FallbackTimeout,
		userAgents:      opts.UserAgents,
		platforms:       opts.Platforms,
		client:          opts.Client,
		limiter:         opts.Limiter,
		renderer:        opts.Renderer,
		sleep:           opts.Sleep,
		logger:          logger.With("component", "fetcher"),
	}
	if f.maxRetries < 1 {
		f.maxRetries = 1
	}
	if f.fallbackTimeout <= 0 {
		f.fallbackTimeout = 30 * time.Second
	}
	if f.platforms == nil {
		f.platforms = config.DefaultPlatforms()
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.sleep == nil {
		f.sleep = sleepContext
	}
	return f
}

type failure int

const (
	failNone failure = iota
	failBlocked
	failServer
	failTimeout
	failConn
	failOther
)

func (f failure) reason() string {
	switch f {
	case failBlocked:
		return "blocked"
	case failServer:
		return "server"
	case failTimeout:
		return "timeout"
	case failConn:
		return "connection"
	default:
		return "other"
	}
}

// Fetch retrieves url with the platform's headers, spacing and timeout.
// 403s and timeouts escalate to the renderer once plain retries are used up;
// server errors and connection errors do not.
func (f *Fetcher) Fetch(ctx context.Context, url, platformKey string) Outcome {
	if platformKey == "" {
		platformKey = PlatformFor(url, f.platforms)
	}
	p, ok := f.platforms[platformKey]
	if !ok {
		platformKey = config.GenericPlatform
		p = f.platforms[config.GenericPlatform]
	}

	out := f.fetch(ctx, url, platformKey, p)
	out.Platform = platformKey
	metrics.FetchFinished(platformKey, string(out.Status))
	return out
}

func (f *Fetcher) fetch(ctx context.Context, url, platformKey string, p config.Platform) Outcome {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, platformKey); err != nil {
			return Outcome{Status: contextStatus(ctx)}
		}
	}

	var (
		last     failure
		lastCode int
	)

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		body, code, kind := f.do(ctx, url, p, attempt)
		f.observe(platformKey, kind)

		if kind == failNone {
			return Outcome{Status: StatusOK, Body: body, HTTPCode: code, Attempts: attempt}
		}
		last, lastCode = kind, code

		if kind == failOther {
			f.logger.Warn("non-retryable http status", "url", url, "status_code", code)
			return Outcome{Status: StatusHTTPError, HTTPCode: code, Attempts: attempt}
		}

		if ctx.Err() != nil {
			return Outcome{Status: contextStatus(ctx), HTTPCode: lastCode, Attempts: attempt}
		}

		if attempt == f.maxRetries {
			break
		}

		wait := backoff(kind, attempt)
		metrics.FetchRetried(platformKey, kind.reason())
		f.logger.Warn("fetch attempt failed, retrying",
			"url", url,
			"platform", platformKey,
			"attempt", attempt,
			"status_code", code,
			"reason", kind.reason(),
			"wait", wait)

		if err := f.sleep(ctx, wait); err != nil {
			return Outcome{Status: contextStatus(ctx), HTTPCode: lastCode, Attempts: attempt}
		}
	}

	switch last {
	case failBlocked:
		return f.fallback(ctx, url, platformKey, StatusBlocked, lastCode)
	case failTimeout:
		return f.fallback(ctx, url, platformKey, StatusTimeout, lastCode)
	case failConn:
		f.logger.Error("connection failed", "url", url, "attempts", f.maxRetries)
		return Outcome{Status: StatusConnError, Attempts: f.maxRetries}
	default:
		f.logger.Error("server error persisted", "url", url, "status_code", lastCode, "attempts", f.maxRetries)
		return Outcome{Status: StatusHTTPError, HTTPCode: lastCode, Attempts: f.maxRetries}
	}
}

func (f *Fetcher) observe(platformKey string, kind failure) {
	if f.limiter == nil {
		return
	}
	type adaptive interface {
		RecordSuccess(key string)
		RecordError(key string)
	}
	a, ok := f.limiter.(adaptive)
	if !ok {
		return
	}
	if kind == failNone {
		a.RecordSuccess(platformKey)
	} else {
		a.RecordError(platformKey)
	}
}

func (f *Fetcher) fallback(ctx context.Context, url, platformKey string, onFail Status, lastCode int) Outcome {
	out := Outcome{Status: onFail, HTTPCode: lastCode, Attempts: f.maxRetries}
	if f.renderer == nil {
		f.logger.Warn("no renderer configured, giving up", "url", url, "status", onFail)
		return out
	}

	f.logger.Info("escalating to browser render", "url", url, "platform", platformKey)
	out.UsedFallback = true

	html, code, err := f.renderer.Render(ctx, url, f.fallbackTimeout)
	if err != nil {
		metrics.FallbackRendered(platformKey, false)
		f.logger.Warn("browser render failed", "url", url, "error", err)
		out.Status = StatusBlocked
		if isTimeout(err) {
			out.Status = StatusTimeout
		}
		if code != 0 {
			out.HTTPCode = code
		}
		return out
	}

	metrics.FallbackRendered(platformKey, true)
	out.Status = StatusOK
	out.Body = html
	out.HTTPCode = code
	return out
}

// do performs one plain GET and classifies the result.
func (f *Fetcher) do(ctx context.Context, url string, p config.Platform, attempt int) ([]byte, int, failure) {
	reqCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Error("failed to build request", "url", url, "error", err)
		return nil, 0, failOther
	}
	f.applyHeaders(req, p, attempt)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, failTimeout
		}
		return nil, 0, failConn
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			if isTimeout(err) {
				return nil, code, failTimeout
			}
			return nil, code, failConn
		}
		return body, code, failNone
	case code == http.StatusForbidden:
		return nil, code, failBlocked
	case code == http.StatusTooManyRequests,
		code == http.StatusInternalServerError,
		code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable,
		code == http.StatusGatewayTimeout:
		return nil, code, failServer
	default:
		return nil, code, failOther
	}
}

// backoff returns the wait after a failed attempt (1-based).
func backoff(kind failure, attempt int) time.Duration {
	switch kind {
	case failTimeout:
		return time.Duration(1<<attempt) * time.Second
	case failConn:
		return 2 * time.Second
	default:
		return time.Duration(attempt*2) * time.Second
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func contextStatus(ctx context.Context) Status {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusConnError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
