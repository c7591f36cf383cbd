package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Fetcher   FetcherConfig
	Browser   BrowserConfig
	Platforms map[string]Platform
	OCR       OCRConfig
	Corrector CorrectorConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type FetcherConfig struct {
	MaxRetries      int
	DefaultInterval time.Duration
	FallbackTimeout time.Duration
	Adaptive        bool
	UserAgents      []string
	PlatformsFile   string
}

type BrowserConfig struct {
	Enabled        bool
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	SettleDelay    time.Duration
}

type OCRConfig struct {
	Endpoint     string
	Timeout      time.Duration
	ImageTimeout time.Duration
	MaxImages    int
	Workers      int
}

type CorrectorConfig struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	Timeout           time.Duration
	MaxTokens         int
	RequestsPerSecond float64
	PromptChars       int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	Stream       string
	Group        string
	PollInterval time.Duration
	BatchSize    int
}

type StorageConfig struct {
	Dir string
}

type QueueConfig struct {
	Workers int
	MaxSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Fetcher: FetcherConfig{
			MaxRetries:      getIntOrDefault("FETCH_MAX_RETRIES", 3),
			DefaultInterval: getDurationOrDefault("FETCH_DEFAULT_INTERVAL", 2*time.Second),
			FallbackTimeout: getDurationOrDefault("FETCH_FALLBACK_TIMEOUT", 30*time.Second),
			Adaptive:        getBoolOrDefault("FETCH_ADAPTIVE", false),
			UserAgents:      getStringSliceOrDefault("FETCH_USER_AGENTS", defaultUserAgents()),
			PlatformsFile:   getEnvOrDefault("PLATFORMS_FILE", ""),
		},
		Browser: BrowserConfig{
			Enabled:        getBoolOrDefault("BROWSER_ENABLED", true),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-IN,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Kolkata"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-IN"),
			SettleDelay:    getDurationOrDefault("BROWSER_SETTLE_DELAY", 2*time.Second),
		},
		Platforms: DefaultPlatforms(),
		OCR: OCRConfig{
			Endpoint:     getEnvOrDefault("OCR_ENDPOINT", ""),
			Timeout:      getDurationOrDefault("OCR_TIMEOUT", 20*time.Second),
			ImageTimeout: getDurationOrDefault("OCR_IMAGE_TIMEOUT", 15*time.Second),
			MaxImages:    getIntOrDefault("OCR_MAX_IMAGES", 10),
			Workers:      getIntOrDefault("OCR_WORKERS", 4),
		},
		Corrector: CorrectorConfig{
			Provider:          getEnvOrDefault("CORRECTOR_PROVIDER", "none"),
			APIKey:            getEnvOrDefault("ANTHROPIC_API_KEY", ""),
			Model:             getEnvOrDefault("CORRECTOR_MODEL", "claude-3-5-haiku-latest"),
			BaseURL:           getEnvOrDefault("CORRECTOR_BASE_URL", "https://api.anthropic.com"),
			Timeout:           getDurationOrDefault("CORRECTOR_TIMEOUT", 60*time.Second),
			MaxTokens:         getIntOrDefault("CORRECTOR_MAX_TOKENS", 1024),
			RequestsPerSecond: getFloatOrDefault("CORRECTOR_RPS", 1),
			PromptChars:       getIntOrDefault("CORRECTOR_PROMPT_CHARS", 2000),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "lmpc"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", false),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:compliance_results"),
			Group:        getEnvOrDefault("REDIS_CONSUMER_GROUP", "compliance-consumers"),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 50),
		},
		Storage: StorageConfig{
			Dir: getEnvOrDefault("STORAGE_DIR", "data"),
		},
		Queue: QueueConfig{
			Workers: getIntOrDefault("QUEUE_WORKERS", 2),
			MaxSize: getIntOrDefault("QUEUE_MAX_SIZE", 1000),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if cfg.Fetcher.PlatformsFile != "" {
		platforms, err := LoadPlatforms(cfg.Fetcher.PlatformsFile, cfg.Platforms)
		if err != nil {
			return nil, err
		}
		cfg.Platforms = platforms
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative")
	}

	if len(c.Platforms) == 0 {
		return fmt.Errorf("at least one platform profile is required")
	}

	if _, ok := c.Platforms[GenericPlatform]; !ok {
		return fmt.Errorf("platform profile %q is required", GenericPlatform)
	}

	if c.OCR.MaxImages < 0 {
		return fmt.Errorf("OCR_MAX_IMAGES must not be negative")
	}

	if c.OCR.Workers < 1 {
		return fmt.Errorf("OCR_WORKERS must be at least 1")
	}

	switch c.Corrector.Provider {
	case "none", "mock":
	case "anthropic":
		if c.Corrector.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when CORRECTOR_PROVIDER is anthropic")
		}
	default:
		return fmt.Errorf("unknown CORRECTOR_PROVIDER: %s", c.Corrector.Provider)
	}

	if c.Corrector.PromptChars < 1 {
		return fmt.Errorf("CORRECTOR_PROMPT_CHARS must be at least 1")
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("QUEUE_WORKERS must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
