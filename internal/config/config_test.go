package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fetcher.MaxRetries)
	assert.Equal(t, 10, cfg.OCR.MaxImages)
	assert.Equal(t, 2000, cfg.Corrector.PromptChars)
	assert.Equal(t, 45*time.Second, cfg.Platforms["flipkart"].Timeout)
	assert.Equal(t, 15*time.Second, cfg.Platforms["amazon"].Timeout)
	assert.Equal(t, "stream:compliance_results", cfg.Redis.Stream)
	assert.Equal(t, "compliance-consumers", cfg.Redis.Group)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FETCH_MAX_RETRIES", "5")
	t.Setenv("OCR_MAX_IMAGES", "4")
	t.Setenv("FETCH_USER_AGENTS", "ua-1, ua-2,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Fetcher.MaxRetries)
	assert.Equal(t, 4, cfg.OCR.MaxImages)
	assert.Equal(t, []string{"ua-1", "ua-2"}, cfg.Fetcher.UserAgents)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"Negative retries", func(c *Config) { c.Fetcher.MaxRetries = -1 }, true},
		{"No platforms", func(c *Config) { c.Platforms = map[string]Platform{} }, true},
		{"Missing generic", func(c *Config) { delete(c.Platforms, GenericPlatform) }, true},
		{"Zero OCR workers", func(c *Config) { c.OCR.Workers = 0 }, true},
		{"Anthropic without key", func(c *Config) { c.Corrector.Provider = "anthropic"; c.Corrector.APIKey = "" }, true},
		{"Anthropic with key", func(c *Config) { c.Corrector.Provider = "anthropic"; c.Corrector.APIKey = "k" }, false},
		{"Unknown provider", func(c *Config) { c.Corrector.Provider = "other" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadPlatforms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platforms.yaml")
	content := `platforms:
  amazon:
    min_interval: 5s
    headers:
      X-Test: "1"
  shopsy:
    name: Shopsy
    base_url: https://www.shopsy.in
    timeout: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	platforms, err := LoadPlatforms(path, DefaultPlatforms())
	require.NoError(t, err)

	amazon := platforms["amazon"]
	assert.Equal(t, 5*time.Second, amazon.MinInterval)
	assert.Equal(t, 15*time.Second, amazon.Timeout)
	assert.Equal(t, "Amazon India", amazon.Name)
	assert.NotEmpty(t, amazon.Headers["Accept"])
	assert.Len(t, amazon.Headers, len(DefaultPlatforms()["amazon"].Headers)+1)

	shopsy := platforms["shopsy"]
	assert.Equal(t, "Shopsy", shopsy.Name)
	assert.Equal(t, "shopsy.in", shopsy.Host())
	assert.Equal(t, 20*time.Second, shopsy.Timeout)
	assert.Equal(t, 2*time.Second, shopsy.MinInterval)

	assert.Contains(t, platforms, GenericPlatform)
}

func TestLoadPlatformsMissingFile(t *testing.T) {
	_, err := LoadPlatforms(filepath.Join(t.TempDir(), "nope.yaml"), DefaultPlatforms())
	assert.Error(t, err)
}

func TestIntervals(t *testing.T) {
	iv := Intervals(DefaultPlatforms())
	assert.Equal(t, 3*time.Second, iv["flipkart"])
	assert.Equal(t, 2*time.Second, iv[GenericPlatform])
}
