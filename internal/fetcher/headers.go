package fetcher

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/maltedev/lmpc-scraper/internal/config"
)

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-IN,en;q=0.9,hi;q=0.8",
	"en-GB,en;q=0.9",
}

// applyHeaders sets the platform headers and rotates the user agent and
// language per attempt so consecutive attempts never look identical.
func (f *Fetcher) applyHeaders(req *http.Request, p config.Platform, attempt int) {
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if n := len(f.userAgents); n > 0 {
		req.Header.Set("User-Agent", f.userAgents[(attempt-1)%n])
	}
	if attempt > 1 {
		req.Header.Set("Accept-Language", acceptLanguages[(attempt-1)%len(acceptLanguages)])
	}
}

// PlatformFor maps a URL to a platform key by host. Unknown hosts map to the
// generic profile.
func PlatformFor(rawURL string, platforms map[string]config.Platform) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return config.GenericPlatform
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return config.GenericPlatform
	}

	best, bestLen := config.GenericPlatform, 0
	for key, p := range platforms {
		ph := p.Host()
		if ph == "" {
			continue
		}
		if (host == ph || strings.HasSuffix(host, "."+ph)) && len(ph) > bestLen {
			best, bestLen = key, len(ph)
		}
	}
	return best
}
