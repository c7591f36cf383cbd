package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	html  []byte
	code  int
	err   error
}

func (r *fakeRenderer) Render(ctx context.Context, url string, timeout time.Duration) ([]byte, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.html, r.code, r.err
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func testPlatforms(timeout time.Duration) map[string]config.Platform {
	return map[string]config.Platform{
		config.GenericPlatform: {Name: "Generic", Timeout: timeout, Headers: map[string]string{"Accept": "text/html"}},
	}
}

func newTestFetcher(renderer Renderer, sleeper *sleepRecorder, timeout time.Duration) *Fetcher {
	opts := Options{
		MaxRetries:      3,
		FallbackTimeout: time.Second,
		UserAgents:      []string{"ua-0", "ua-1", "ua-2"},
		Platforms:       testPlatforms(timeout),
		Sleep:           sleeper.sleep,
	}
	if renderer != nil {
		opts.Renderer = renderer
	}
	return New(opts, nil)
}

func statusServer(codes ...int) (*httptest.Server, *int32) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&n, 1) - 1
		code := codes[len(codes)-1]
		if int(i) < len(codes) {
			code = codes[i]
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte("<html>ok</html>"))
		}
	}))
	return srv, &n
}

func TestFetchOK(t *testing.T) {
	srv, hits := statusServer(http.StatusOK)
	defer srv.Close()

	f := newTestFetcher(nil, &sleepRecorder{}, 5*time.Second)
	out := f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, http.StatusOK, out.HTTPCode)
	assert.Equal(t, "<html>ok</html>", string(out.Body))
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, config.GenericPlatform, out.Platform)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestFetchForbiddenEscalatesToRenderer(t *testing.T) {
	srv, hits := statusServer(http.StatusForbidden)
	defer srv.Close()

	renderer := &fakeRenderer{html: []byte("<html>rendered</html>"), code: 200}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(renderer, sleeper, 5*time.Second)

	out := f.Fetch(context.Background(), srv.URL, "")

	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, StatusOK, out.Status)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, "<html>rendered</html>", string(out.Body))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.waits)
}

func TestFetchForbiddenRendererFails(t *testing.T) {
	srv, _ := statusServer(http.StatusForbidden)
	defer srv.Close()

	renderer := &fakeRenderer{err: errors.New("captcha wall")}
	f := newTestFetcher(renderer, &sleepRecorder{}, 5*time.Second)

	out := f.Fetch(context.Background(), srv.URL, "")
	assert.Equal(t, StatusBlocked, out.Status)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, 1, renderer.calls)
}

func TestFetchForbiddenWithoutRenderer(t *testing.T) {
	srv, _ := statusServer(http.StatusForbidden)
	defer srv.Close()

	f := newTestFetcher(nil, &sleepRecorder{}, 5*time.Second)
	out := f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, StatusBlocked, out.Status)
	assert.Equal(t, http.StatusForbidden, out.HTTPCode)
	assert.False(t, out.UsedFallback)
}

func TestFetchServerErrorsNeverEscalate(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"Too many requests", http.StatusTooManyRequests},
		{"Internal error", http.StatusInternalServerError},
		{"Bad gateway", http.StatusBadGateway},
		{"Unavailable", http.StatusServiceUnavailable},
		{"Gateway timeout", http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := statusServer(tt.code)
			defer srv.Close()

			renderer := &fakeRenderer{html: []byte("x"), code: 200}
			sleeper := &sleepRecorder{}
			f := newTestFetcher(renderer, sleeper, 5*time.Second)

			out := f.Fetch(context.Background(), srv.URL, "")

			assert.Equal(t, StatusHTTPError, out.Status)
			assert.Equal(t, tt.code, out.HTTPCode)
			assert.EqualValues(t, 3, atomic.LoadInt32(hits))
			assert.Equal(t, 0, renderer.calls)
			assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.waits)
		})
	}
}

func TestFetchRecoversAfterServerError(t *testing.T) {
	srv, hits := statusServer(http.StatusServiceUnavailable, http.StatusOK)
	defer srv.Close()

	f := newTestFetcher(nil, &sleepRecorder{}, 5*time.Second)
	out := f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.EqualValues(t, 2, atomic.LoadInt32(hits))
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	srv, hits := statusServer(http.StatusNotFound)
	defer srv.Close()

	renderer := &fakeRenderer{html: []byte("x"), code: 200}
	f := newTestFetcher(renderer, &sleepRecorder{}, 5*time.Second)
	out := f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, StatusHTTPError, out.Status)
	assert.Equal(t, http.StatusNotFound, out.HTTPCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	assert.Equal(t, 0, renderer.calls)
}

func TestFetchTimeoutEscalatesWithExponentialBackoff(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	renderer := &fakeRenderer{html: []byte("<html>slow</html>"), code: 200}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(renderer, sleeper, 30*time.Millisecond)

	out := f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, StatusOK, out.Status)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.waits)
}

func TestFetchTimeoutWithoutRenderer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newTestFetcher(nil, &sleepRecorder{}, 30*time.Millisecond)
	out := f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, StatusTimeout, out.Status)
	assert.Equal(t, 0, out.HTTPCode)
}

func TestFetchConnectionErrorNeverEscalates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	renderer := &fakeRenderer{html: []byte("x"), code: 200}
	sleeper := &sleepRecorder{}
	f := newTestFetcher(renderer, sleeper, time.Second)

	out := f.Fetch(context.Background(), url, "")

	assert.Equal(t, StatusConnError, out.Status)
	assert.Equal(t, 0, renderer.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.waits)
}

func TestFetchRotatesUserAgent(t *testing.T) {
	var mu sync.Mutex
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher(nil, &sleepRecorder{}, time.Second)
	f.Fetch(context.Background(), srv.URL, "")

	assert.Equal(t, []string{"ua-0", "ua-1", "ua-2"}, agents)
}

type countingLimiter struct {
	keys []string
}

func (l *countingLimiter) Wait(ctx context.Context, key string) error {
	l.keys = append(l.keys, key)
	return nil
}

func TestFetchWaitsOnPlatformKey(t *testing.T) {
	srv, _ := statusServer(http.StatusOK)
	defer srv.Close()

	limiter := &countingLimiter{}
	f := New(Options{
		MaxRetries: 3,
		Platforms:  testPlatforms(time.Second),
		Limiter:    limiter,
		Sleep:      (&sleepRecorder{}).sleep,
	}, nil)

	f.Fetch(context.Background(), srv.URL, "")
	require.Len(t, limiter.keys, 1)
	assert.Equal(t, config.GenericPlatform, limiter.keys[0])
}

func TestPlatformFor(t *testing.T) {
	platforms := config.DefaultPlatforms()

	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.amazon.in/dp/B000123", "amazon"},
		{"https://amazon.in/dp/B000123", "amazon"},
		{"https://www.flipkart.com/item/p/itm1?pid=1", "flipkart"},
		{"https://m.meesho.com/product/1", "meesho"},
		{"https://shop.example.com/p/1", config.GenericPlatform},
		{"not a url", config.GenericPlatform},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, PlatformFor(tt.url, platforms))
		})
	}
}

func TestFetchOnlyAcceptsStatusOK(t *testing.T) {
	for _, code := range []int{http.StatusNoContent, http.StatusPartialContent} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv, hits := statusServer(code)
			defer srv.Close()

			f := newTestFetcher(nil, &sleepRecorder{}, 5*time.Second)
			out := f.Fetch(context.Background(), srv.URL, "")

			assert.Equal(t, StatusHTTPError, out.Status)
			assert.Equal(t, code, out.HTTPCode)
			assert.Empty(t, out.Body)
			assert.EqualValues(t, 1, atomic.LoadInt32(hits))
		})
	}
}

type blockingLimiter struct{}

func (blockingLimiter) Wait(ctx context.Context, key string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFetchLimiterWaitAborted(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelExpired()

	tests := []struct {
		name   string
		ctx    context.Context
		status Status
	}{
		{"cancelled", cancelled, StatusConnError},
		{"deadline", expired, StatusTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := statusServer(http.StatusOK)
			defer srv.Close()

			f := New(Options{
				MaxRetries: 3,
				Platforms:  testPlatforms(time.Second),
				Limiter:    blockingLimiter{},
				Sleep:      (&sleepRecorder{}).sleep,
			}, nil)

			out := f.Fetch(tt.ctx, srv.URL, "")
			assert.Equal(t, tt.status, out.Status)
			assert.EqualValues(t, 0, atomic.LoadInt32(hits))
		})
	}
}
