// Package config loads service settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/kudos/internal/archive"
	"github.com/dukerupert/kudos/internal/store"
)

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string // "text" or "json"

	// Security
	WebhookSecret string
	JWTSecret     string

	// Ledger
	DefaultCommunity string
	StoreTimeout     time.Duration
	RetryAttempts    int

	// Live feed
	AllowedOrigins []string

	// Rate limiting for the webhook endpoint, per remote IP.
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	Archive archive.Config
}

// Load reads the optional .env file and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the environment with defaults applied. It
// does not validate.
func FromEnv() *Config {
	return &Config{
		Port:      getEnv("KUDOS_PORT", "8080"),
		DBPath:    getEnv("KUDOS_DB_PATH", "kudos.db"),
		LogLevel:  getEnv("KUDOS_LOG_LEVEL", "info"),
		LogFormat: getEnv("KUDOS_LOG_FORMAT", "text"),

		WebhookSecret: getEnv("KUDOS_WEBHOOK_SECRET", ""),
		JWTSecret:     getEnv("KUDOS_JWT_SECRET", ""),

		DefaultCommunity: getEnv("KUDOS_DEFAULT_COMMUNITY", "default"),
		StoreTimeout:     getEnvDuration("KUDOS_STORE_TIMEOUT", 5*time.Second),
		RetryAttempts:    getEnvInt("KUDOS_STORE_RETRY_ATTEMPTS", 4),

		AllowedOrigins: getEnvList("KUDOS_WS_ORIGINS"),

		WebhookRateLimit:  getEnvInt("KUDOS_WEBHOOK_RATE_LIMIT", 120),
		WebhookRateWindow: getEnvDuration("KUDOS_WEBHOOK_RATE_WINDOW", time.Minute),

		Archive: archive.Config{
			S3: archive.S3Config{
				Endpoint:  getEnv("KUDOS_ARCHIVE_ENDPOINT", ""),
				Bucket:    getEnv("KUDOS_ARCHIVE_BUCKET", ""),
				Region:    getEnv("KUDOS_ARCHIVE_REGION", "us-east-1"),
				AccessKey: getEnv("KUDOS_ARCHIVE_ACCESS_KEY", ""),
				SecretKey: getEnv("KUDOS_ARCHIVE_SECRET_KEY", ""),
			},
			Passphrase: getEnv("KUDOS_ARCHIVE_PASSPHRASE", ""),
			Interval:   getEnvDuration("KUDOS_ARCHIVE_INTERVAL", archive.DefaultInterval),
		},
	}
}

func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("KUDOS_WEBHOOK_SECRET is required")
	}
	if len(c.WebhookSecret) < 16 {
		return fmt.Errorf("KUDOS_WEBHOOK_SECRET must be at least 16 characters")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("KUDOS_JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("KUDOS_JWT_SECRET must be at least 32 characters")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("KUDOS_STORE_TIMEOUT must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("KUDOS_STORE_RETRY_ATTEMPTS must be at least 1")
	}
	if strings.TrimSpace(c.DefaultCommunity) == "" {
		return fmt.Errorf("KUDOS_DEFAULT_COMMUNITY must not be blank")
	}
	a := c.Archive
	if a.S3.Bucket != "" && a.Passphrase == "" {
		return fmt.Errorf("KUDOS_ARCHIVE_PASSPHRASE is required when KUDOS_ARCHIVE_BUCKET is set")
	}
	if a.S3.Bucket != "" && (a.S3.AccessKey == "" || a.S3.SecretKey == "") {
		return fmt.Errorf("KUDOS_ARCHIVE_ACCESS_KEY and KUDOS_ARCHIVE_SECRET_KEY are required when KUDOS_ARCHIVE_BUCKET is set")
	}
	return nil
}

// Retry returns the store retry policy for the configured timeout and
// attempt count.
func (c *Config) Retry() store.RetryPolicy {
	p := store.DefaultRetryPolicy()
	p.Timeout = c.StoreTimeout
	p.Attempts = c.RetryAttempts
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
