package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RequestTimeout    time.Duration // per-request deadline (default: 30s)
	BatchSize         int           // batch chunk size (default: 100)
	HealthySyncWindow time.Duration // sync recency for device health (default: 1h)

	RateLimitSync  int // sync/event endpoints per API key per minute (default: 120)
	RateLimitOther int // all other per API key per minute (default: 300)

	// ResolvedEventRetention is how long resolved events are kept before
	// the maintenance loop purges them (default: 30 days).
	ResolvedEventRetention time.Duration

	// APIKeys are the accepted bearer keys. Empty disables auth for
	// local development.
	APIKeys []string
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/converse.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RequestTimeout:    30 * time.Second,
		BatchSize:         100,
		HealthySyncWindow: time.Hour,

		RateLimitSync:  120,
		RateLimitOther: 300,

		ResolvedEventRetention: 30 * 24 * time.Hour,
	}

	if v := os.Getenv("CONVERSE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONVERSE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONVERSE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("CONVERSE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CONVERSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONVERSE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("CONVERSE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("CONVERSE_HEALTHY_SYNC_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HealthySyncWindow = d
		}
	}
	if v := os.Getenv("CONVERSE_RATE_LIMIT_SYNC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitSync = n
		}
	}
	if v := os.Getenv("CONVERSE_RATE_LIMIT_OTHER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitOther = n
		}
	}
	if v := os.Getenv("CONVERSE_RESOLVED_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.ResolvedEventRetention = d
		}
	}
	if v := os.Getenv("CONVERSE_API_KEYS"); v != "" {
		for _, k := range strings.Split(v, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				cfg.APIKeys = append(cfg.APIKeys, k)
			}
		}
	}

	return cfg
}

// withDefaults fills zero values a directly constructed Config leaves
// unset. LoadConfig applies the same defaults from the environment.
func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateLimitSync <= 0 {
		c.RateLimitSync = 120
	}
	if c.RateLimitOther <= 0 {
		c.RateLimitOther = 300
	}
	if c.ResolvedEventRetention <= 0 {
		c.ResolvedEventRetention = 30 * 24 * time.Hour
	}
	return c
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
