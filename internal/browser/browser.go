package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	ErrBlocked = errors.New("page is behind a bot wall")
	ErrClosed  = errors.New("browser is closed")
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	pages   chan struct{}
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	SettleDelay    time.Duration
	MaxPages       int
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-IN,en;q=0.9",
		TimezoneID:     "Asia/Kolkata",
		Locale:         "en-IN",
		SettleDelay:    2 * time.Second,
		MaxPages:       2,
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		pages:   make(chan struct{}, opts.MaxPages),
		logger:  logger.With("component", "browser"),
	}, nil
}

// Render loads url in a fresh page, waits for the network to settle and
// returns the rendered HTML with the main response status.
func (b *Browser) Render(ctx context.Context, url string, timeout time.Duration) ([]byte, int, error) {
	select {
	case b.pages <- struct{}{}:
		defer func() { <-b.pages }()
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	if timeout <= 0 {
		timeout = b.opts.Timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, 0, context.DeadlineExceeded
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()

	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	b.logger.Info("rendering page", "url", url, "timeout", timeout)

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, 0, fmt.Errorf("navigation timed out: %w", context.DeadlineExceeded)
		}
		return nil, 0, fmt.Errorf("failed to navigate: %w", err)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}

	if b.opts.SettleDelay > 0 {
		page.WaitForTimeout(float64(b.opts.SettleDelay.Milliseconds()))
	}

	title, err := page.Title()
	if err != nil {
		return nil, status, fmt.Errorf("failed to get page title: %w", err)
	}

	content, err := page.Content()
	if err != nil {
		return nil, status, fmt.Errorf("failed to get page content: %w", err)
	}

	if status == 403 || IsBotWall(title, content) {
		b.logger.Warn("bot wall detected", "url", url, "title", title, "status_code", status)
		return nil, status, ErrBlocked
	}

	b.logger.Info("page rendered", "url", url, "bytes", len(content), "status_code", status)
	return []byte(content), status, nil
}

var botWallMarkers = []string{
	"captcha",
	"validatecaptcha",
	"are you a robot",
	"not a robot",
	"access denied",
	"unusual traffic",
	"enter the characters you see below",
}

// IsBotWall reports whether a rendered page is a challenge page rather than
// the product page.
func IsBotWall(title, html string) bool {
	t := strings.ToLower(title)
	if strings.Contains(t, "robot") || strings.Contains(t, "access denied") || strings.Contains(t, "captcha") {
		return true
	}
	// Real product pages are large; challenge pages are small and
	// dominated by the challenge form.
	if len(html) > 200_000 {
		return false
	}
	h := strings.ToLower(html)
	for _, m := range botWallMarkers {
		if strings.Contains(h, m) {
			return true
		}
	}
	return false
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Lazy starts the browser on the first Render call. A failed start is
// remembered and returned to every later caller.
type Lazy struct {
	opts   *Options
	logger *slog.Logger

	once    sync.Once
	mu      sync.Mutex
	b       *Browser
	err     error
	closed  bool
	newFunc func(*Options, *slog.Logger) (*Browser, error)
}

func NewLazy(opts *Options, logger *slog.Logger) *Lazy {
	return &Lazy{opts: opts, logger: logger, newFunc: New}
}

func (l *Lazy) get() (*Browser, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	l.once.Do(func() {
		b, err := l.newFunc(l.opts, l.logger)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			if b != nil {
				b.Close()
			}
			l.err = ErrClosed
			return
		}
		l.b, l.err = b, err
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.b, l.err
}

func (l *Lazy) Render(ctx context.Context, url string, timeout time.Duration) ([]byte, int, error) {
	b, err := l.get()
	if err != nil {
		return nil, 0, fmt.Errorf("browser unavailable: %w", err)
	}
	return b.Render(ctx, url, timeout)
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.b == nil {
		return nil
	}
	err := l.b.Close()
	l.b = nil
	return err
}
