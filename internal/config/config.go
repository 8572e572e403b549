// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Summary cache (optional, uses in-process cache if not set)

	// Security
	SecretKey    string // signs CSRF tokens
	SecretFile   string
	TokenTTL     time.Duration
	SessionTTL   time.Duration
	RateLimitRPM int
	CORSOrigins  []string

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultSecretFile   = ".secret"
	DefaultTokenDays    = 30
	DefaultSessionHours = 336
	DefaultRateLimitRPM = 120

	// MinSecretLength applies outside development.
	MinSecretLength = 32

	developmentSecret = "tally-development-secret-do-not-deploy"
)

var (
	ErrSecretMissing  = errors.New("secret key is required in production: set SECRET_KEY or write SECRET_FILE")
	ErrSecretTooShort = fmt.Errorf("secret key must be at least %d characters", MinSecretLength)
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		SecretKey:    os.Getenv("SECRET_KEY"),
		SecretFile:   getEnv("SECRET_FILE", DefaultSecretFile),
		TokenTTL:     time.Duration(getEnvInt64("TOKEN_TTL_DAYS", DefaultTokenDays)) * 24 * time.Hour,
		SessionTTL:   time.Duration(getEnvInt64("SESSION_TTL_HOURS", DefaultSessionHours)) * time.Hour,
		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:  splitList(os.Getenv("CORS_ORIGINS")),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	ratio, err := getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1)
	if err != nil {
		return nil, err
	}
	cfg.TraceSampleRatio = ratio

	if err := cfg.loadSecret(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSecret fills SecretKey from SecretFile when the env var is unset.
// Development falls back to a fixed key.
func (c *Config) loadSecret() error {
	if c.SecretKey != "" {
		return nil
	}
	data, err := os.ReadFile(c.SecretFile)
	switch {
	case err == nil:
		c.SecretKey = strings.TrimSpace(string(data))
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("reading %s: %w", c.SecretFile, err)
	}
	if c.SecretKey == "" && c.IsDevelopment() {
		c.SecretKey = developmentSecret
	}
	return nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production, got %q", c.Env)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if c.SecretKey == "" {
		return ErrSecretMissing
	}
	if !c.IsDevelopment() && len(c.SecretKey) < MinSecretLength {
		return ErrSecretTooShort
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL_DAYS must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
