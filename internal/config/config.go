package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kitbuilder587/grok-search-mcp/internal/llm/grok"
)

var (
	ErrMissingAPIURL = errors.New("GROK_API_URL is required")
	ErrMissingAPIKey = errors.New("GROK_API_KEY is required")
	ErrInvalidAPIURL = errors.New("GROK_API_URL must be a valid http or https URL")
	ErrInvalidValue  = errors.New("invalid config value")
)

const (
	DefaultModel  = "grok-4-fast"
	configDirName = "grok-search"
	maskedKey     = "********"
)

type Config struct {
	Grok      GrokConfig
	Log       LogConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig

	// Dir holds config.json.
	Dir                  string
	BuiltinToolsDisabled bool
}

type GrokConfig struct {
	APIURL string
	APIKey string
	Model  string

	RetryMaxAttempts int
	RetryMultiplier  float64
	RetryMaxWait     time.Duration
}

type LogConfig struct {
	Level string
	Dir   string
	Debug bool
}

type MetricsConfig struct {
	Addr string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

func Load() (*Config, error) {
	apiURL := strings.TrimSpace(os.Getenv("GROK_API_URL"))
	if apiURL == "" {
		return nil, ErrMissingAPIURL
	}
	if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		return nil, ErrInvalidAPIURL
	}

	apiKey := strings.TrimSpace(os.Getenv("GROK_API_KEY"))
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	attempts, err := getEnvIntInRange("GROK_RETRY_MAX_ATTEMPTS", 3, 1, 10)
	if err != nil {
		return nil, err
	}
	multiplier, err := getEnvFloatInRange("GROK_RETRY_MULTIPLIER", 1.0, 0.1, 10)
	if err != nil {
		return nil, err
	}
	maxWait, err := getEnvIntInRange("GROK_RETRY_MAX_WAIT", 10, 1, 300)
	if err != nil {
		return nil, err
	}
	perMinute, err := getEnvIntInRange("GROK_RATE_LIMIT_PER_MINUTE", 0, 0, 10000)
	if err != nil {
		return nil, err
	}

	dir := getEnvOrDefault("GROK_CONFIG_DIR", defaultConfigDir())
	settings := NewStore(dir).Load()

	model := getEnvOrDefault("GROK_MODEL", DefaultModel)
	if persisted := strings.TrimSpace(settings.Model); persisted != "" {
		model = persisted
	}

	debug := getEnvBool("GROK_DEBUG")

	cfg := &Config{
		Grok: GrokConfig{
			APIURL:           strings.TrimRight(apiURL, "/"),
			APIKey:           apiKey,
			Model:            model,
			RetryMaxAttempts: attempts,
			RetryMultiplier:  multiplier,
			RetryMaxWait:     time.Duration(maxWait) * time.Second,
		},
		Log: LogConfig{
			Level: strings.ToUpper(getEnvOrDefault("GROK_LOG_LEVEL", "INFO")),
			Dir:   getEnvOrDefault("GROK_LOG_DIR", ""),
			Debug: debug,
		},
		Metrics: MetricsConfig{
			Addr: getEnvOrDefault("GROK_METRICS_ADDR", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: perMinute,
		},
		Dir:                  dir,
		BuiltinToolsDisabled: settings.BuiltinToolsDisabled,
	}

	return cfg, nil
}

// Store returns the settings file next to this config.
func (c *Config) Store() *Store {
	return NewStore(c.Dir)
}

// MaskedAPIKey keeps the first and last four characters of keys longer
// than eight characters.
func (c *Config) MaskedAPIKey() string {
	return maskKey(c.Grok.APIKey)
}

// GrokClient builds the client config. A non-empty model overrides the
// configured one.
func (c *Config) GrokClient(model string) grok.Config {
	if model == "" {
		model = c.Grok.Model
	}
	return grok.Config{
		APIKey:           c.Grok.APIKey,
		Model:            model,
		BaseURL:          c.Grok.APIURL,
		RetryMaxAttempts: c.Grok.RetryMaxAttempts,
		RetryMultiplier:  c.Grok.RetryMultiplier,
		RetryMaxWait:     c.Grok.RetryMaxWait,
	}
}

func maskKey(key string) string {
	runes := []rune(strings.TrimSpace(key))
	if len(runes) <= 8 {
		return maskedKey
	}
	return string(runes[:4]) + maskedKey + string(runes[len(runes)-4:])
}

func defaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, configDirName)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func getEnvIntInRange(key string, defaultValue, lo, hi int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be an integer between %d and %d", ErrInvalidValue, key, lo, hi)
	}
	return n, nil
}

func getEnvFloatInRange(key string, defaultValue, lo, hi float64) (float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < lo || f > hi {
		return 0, fmt.Errorf("%w: %s must be a number between %g and %g", ErrInvalidValue, key, lo, hi)
	}
	return f, nil
}
