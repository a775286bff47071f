// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay configuration. UpstreamURL is the base URL of the
// external presence service; leaving it empty is valid and merely makes the
// online/offline notifications fail with a logged error.
type Config struct {
	Port            string
	UpstreamURL     string
	UpstreamTimeout time.Duration
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port:            ":3000",
		UpstreamURL:     "",
		UpstreamTimeout: 5 * time.Second,
		// The relay serves browser clients from arbitrary origins unless
		// narrowed via ALLOWED_ORIGINS.
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":3000"
	}
	if !strings.HasPrefix(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 5 * time.Second
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := Config{
		Port:            cfg.Port,
		UpstreamURL:     cfg.UpstreamURL,
		UpstreamTimeout: cfg.UpstreamTimeout,
		AllowedOrigins:  append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize:  cfg.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          cfg.RateLimit.Burst,
			RefillInterval: cfg.RateLimit.RefillInterval,
		},
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds a Config from the environment via Viper. An optional .env
// file is read first (ignored when absent, e.g. in production or CI) and real
// environment variables override it. Every value falls back to a default; in
// particular a missing API_URL never fails the load.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	defaults := defaultConfig()
	v.SetDefault("SERVER_PORT", defaults.Port)
	v.SetDefault("API_URL", defaults.UpstreamURL)
	v.SetDefault("UPSTREAM_TIMEOUT", defaults.UpstreamTimeout.String())
	v.SetDefault("ALLOWED_ORIGINS", strings.Join(defaults.AllowedOrigins, ","))
	v.SetDefault("MAX_MESSAGE_SIZE", defaults.MaxMessageSize)
	v.SetDefault("RATE_LIMIT_BURST", defaults.RateLimit.Burst)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", defaults.RateLimit.RefillInterval.String())

	upstreamTimeout, err := time.ParseDuration(v.GetString("UPSTREAM_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid UPSTREAM_TIMEOUT: %w", err)
	}
	refillInterval, err := time.ParseDuration(v.GetString("RATE_LIMIT_REFILL_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid RATE_LIMIT_REFILL_INTERVAL: %w", err)
	}

	cfg := Config{
		Port:            v.GetString("SERVER_PORT"),
		UpstreamURL:     strings.TrimRight(v.GetString("API_URL"), "/"),
		UpstreamTimeout: upstreamTimeout,
		AllowedOrigins:  parseOrigins(v.GetString("ALLOWED_ORIGINS")),
		MaxMessageSize:  v.GetInt64("MAX_MESSAGE_SIZE"),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt("RATE_LIMIT_BURST"),
			RefillInterval: refillInterval,
		},
	}

	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
