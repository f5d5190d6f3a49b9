// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store and lock backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int           `mapstructure:"PORT"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
	LogFile     string        `mapstructure:"LOG_FILE"`
	HTTPTimeout time.Duration `mapstructure:"HTTP_TIMEOUT"`
	CORSOrigins []string      `mapstructure:"CORS_ORIGINS"`

	// Store
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	AutoMigrate  bool   `mapstructure:"DB_AUTO_MIGRATE"`

	// Locking
	LockBackend      string        `mapstructure:"LOCK_BACKEND"`
	LockWait         time.Duration `mapstructure:"LOCK_WAIT"`
	LockLease        time.Duration `mapstructure:"LOCK_LEASE"`
	LockRetryBackoff time.Duration `mapstructure:"LOCK_RETRY_BACKOFF"`

	// Redis
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Accounts
	MaxAccountsPerUser int `mapstructure:"MAX_ACCOUNTS_PER_USER"`

	// Users. Empty UserServiceURL resolves users from the account store.
	UserServiceURL string        `mapstructure:"USER_SERVICE_URL"`
	UserCacheTTL   time.Duration `mapstructure:"USER_CACHE_TTL"`

	// Events
	EventsEnabled bool   `mapstructure:"EVENTS_ENABLED"`
	EventsStream  string `mapstructure:"EVENTS_STREAM"`
	EventsMaxLen  int64  `mapstructure:"EVENTS_MAX_LEN"`

	// Resilience
	MaxRetries     int           `mapstructure:"MAX_RETRIES"`
	InitialBackoff time.Duration `mapstructure:"INITIAL_BACKOFF"`
	MaxConcurrency int           `mapstructure:"MAX_CONCURRENCY"`

	// Observability
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// JWT. Empty disables bearer auth.
	JWTSecret string `mapstructure:"JWT_SECRET"`
}

var defaults = map[string]any{
	"PORT":         8080,
	"LOG_LEVEL":    "info",
	"LOG_FILE":     "",
	"HTTP_TIMEOUT": 10 * time.Second,
	"CORS_ORIGINS": "*",

	"STORE_BACKEND":   BackendMemory,
	"DATABASE_URL":    "",
	"DB_MAX_CONNS":    10,
	"DB_AUTO_MIGRATE": true,

	"LOCK_BACKEND":       BackendMemory,
	"LOCK_WAIT":          5 * time.Second,
	"LOCK_LEASE":         30 * time.Second,
	"LOCK_RETRY_BACKOFF": 25 * time.Millisecond,

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"MAX_ACCOUNTS_PER_USER": 10,
	"USER_SERVICE_URL":      "",
	"USER_CACHE_TTL":        30 * time.Second,

	"EVENTS_ENABLED": false,
	"EVENTS_STREAM":  "account-events",
	"EVENTS_MAX_LEN": 10000,

	"MAX_RETRIES":     3,
	"INITIAL_BACKOFF": 100 * time.Millisecond,
	"MAX_CONCURRENCY": 50,

	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"JWT_SECRET":                  "",
}

// Load reads configuration from environment variables with defaults.
// Call LoadDotEnv first to pick up a .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.LockBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}

	if c.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be positive")
	}
	if c.LockBackend == BackendRedis && c.LockLease <= c.LockWait {
		return fmt.Errorf("LOCK_LEASE (%s) must exceed LOCK_WAIT (%s)", c.LockLease, c.LockWait)
	}
	if c.MaxAccountsPerUser <= 0 {
		return fmt.Errorf("MAX_ACCOUNTS_PER_USER must be positive")
	}
	return nil
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.LockBackend == BackendRedis || c.EventsEnabled
}

// splitList accepts both comma-separated env values and real slices.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
