// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	LogLevel       string
	WelcomeMessage string
	MetricsEnabled bool
	Store          StoreConfig
	CRM            CRMConfig
	Chat           ChatConfig
	RateLimit      RateLimitConfig
}

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	Driver string // "sqlite", "redis" or "memory"
	DBPath string
	Redis  RedisConfig
}

// RedisConfig configures the Redis store driver.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // 0 keeps keys forever
}

// CRMConfig configures user lookup. SupabaseURL takes precedence over BaseURL.
type CRMConfig struct {
	BaseURL     string
	Timeout     time.Duration
	CacheTTL    time.Duration
	SupabaseURL string
	SupabaseKey string
}

// Enabled reports whether any CRM backend is configured.
func (c CRMConfig) Enabled() bool {
	return c.BaseURL != "" || c.SupabaseURL != ""
}

// ChatConfig configures the chat service client. GRPCAddr takes precedence
// over BaseURL.
type ChatConfig struct {
	BaseURL  string
	GRPCAddr string
	Timeout  time.Duration
}

// Enabled reports whether a chat service is configured.
func (c ChatConfig) Enabled() bool {
	return c.BaseURL != "" || c.GRPCAddr != ""
}

// RateLimitConfig bounds requests per client. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		WelcomeMessage: getEnv("WELCOME_MESSAGE", ""),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DBPath: getEnv("DB_PATH", "./data/crmchat.db"),
			Redis: RedisConfig{
				Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				Prefix:   getEnv("REDIS_PREFIX", "crmchat:"),
				TTL:      getEnvDuration("REDIS_TTL", 0),
			},
		},
		CRM: CRMConfig{
			BaseURL:     strings.TrimRight(getEnv("CRM_BASE_URL", ""), "/"),
			Timeout:     getEnvDuration("CRM_TIMEOUT", 10*time.Second),
			CacheTTL:    getEnvDuration("CRM_CACHE_TTL", 5*time.Minute),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_KEY", ""),
		},
		Chat: ChatConfig{
			BaseURL:  strings.TrimRight(getEnv("CHAT_BASE_URL", ""), "/"),
			GRPCAddr: getEnv("CHAT_GRPC_ADDR", ""),
			Timeout:  getEnvDuration("CHAT_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
		if c.Store.Redis.TTL < 0 {
			return fmt.Errorf("REDIS_TTL must be >= 0")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of sqlite, redis, memory (got %q)", c.Store.Driver)
	}
	if (c.CRM.SupabaseURL == "") != (c.CRM.SupabaseKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY must be set together")
	}
	if c.CRM.Timeout <= 0 {
		return fmt.Errorf("CRM_TIMEOUT must be > 0")
	}
	if c.Chat.Timeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins: the frontend URL when set,
// otherwise any origin.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// SlogLevel returns LOG_LEVEL as a slog level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is invalid", s)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") and plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
