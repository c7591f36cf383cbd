package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const GenericPlatform = "generic"

// Platform is the fetch profile for one marketplace.
type Platform struct {
	Name        string            `mapstructure:"name"`
	BaseURL     string            `mapstructure:"base_url"`
	MinInterval time.Duration     `mapstructure:"min_interval"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Headers     map[string]string `mapstructure:"headers"`
}

// Host returns the bare hostname of the platform's base URL.
func (p Platform) Host() string {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func baseHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Cache-Control":             "max-age=0",
		"DNT":                       "1",
	}
}

func platform(name, baseURL string, interval, timeout time.Duration) Platform {
	h := baseHeaders()
	if baseURL != "" {
		h["Referer"] = baseURL + "/"
	}
	return Platform{
		Name:        name,
		BaseURL:     baseURL,
		MinInterval: interval,
		Timeout:     timeout,
		Headers:     h,
	}
}

// DefaultPlatforms returns the built-in marketplace profiles.
func DefaultPlatforms() map[string]Platform {
	return map[string]Platform{
		"amazon":    platform("Amazon India", "https://www.amazon.in", 2*time.Second, 15*time.Second),
		"flipkart":  platform("Flipkart", "https://www.flipkart.com", 3*time.Second, 45*time.Second),
		"myntra":    platform("Myntra", "https://www.myntra.com", 2*time.Second, 15*time.Second),
		"meesho":    platform("Meesho", "https://www.meesho.com", 2*time.Second, 15*time.Second),
		"ajio":      platform("Ajio", "https://www.ajio.com", 2*time.Second, 15*time.Second),
		"nykaa":     platform("Nykaa", "https://www.nykaa.com", 2*time.Second, 15*time.Second),
		"snapdeal":  platform("Snapdeal", "https://www.snapdeal.com", 2*time.Second, 15*time.Second),
		"tatacliq":  platform("Tata CLiQ", "https://www.tatacliq.com", 2*time.Second, 15*time.Second),
		"jiomart":   platform("JioMart", "https://www.jiomart.com", 2*time.Second, 15*time.Second),
		"bigbasket": platform("BigBasket", "https://www.bigbasket.com", 2*time.Second, 15*time.Second),
		GenericPlatform: platform("Generic", "", 2*time.Second, 15*time.Second),
	}
}

// LoadPlatforms reads platform overrides from a YAML or JSON file and merges
// them over base. Profiles not named in the file are kept unchanged.
func LoadPlatforms(path string, base map[string]Platform) (map[string]Platform, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read platforms file: %w", err)
	}

	var overrides map[string]Platform
	if err := v.UnmarshalKey("platforms", &overrides); err != nil {
		return nil, fmt.Errorf("failed to decode platforms file: %w", err)
	}

	out := make(map[string]Platform, len(base)+len(overrides))
	for k, p := range base {
		out[k] = p
	}

	for key, o := range overrides {
		key = strings.ToLower(key)
		p, ok := out[key]
		if !ok {
			p = platform(key, "", 2*time.Second, 15*time.Second)
		}
		if o.Name != "" {
			p.Name = o.Name
		}
		if o.BaseURL != "" {
			p.BaseURL = o.BaseURL
		}
		if o.MinInterval > 0 {
			p.MinInterval = o.MinInterval
		}
		if o.Timeout > 0 {
			p.Timeout = o.Timeout
		}
		if len(o.Headers) > 0 {
			merged := make(map[string]string, len(p.Headers)+len(o.Headers))
			for k, val := range p.Headers {
				merged[k] = val
			}
			for k, val := range o.Headers {
				merged[k] = val
			}
			p.Headers = merged
		}
		out[key] = p
	}

	return out, nil
}

// Intervals extracts the per-platform minimum spacing table.
func Intervals(platforms map[string]Platform) map[string]time.Duration {
	out := make(map[string]time.Duration, len(platforms))
	for k, p := range platforms {
		out[k] = p.MinInterval
	}
	return out
}
