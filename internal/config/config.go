// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment processor
	StripeAPIKey    string // Secret key for the Stripe processor (optional, uses the recording stub if not set)
	PlatformAccount string // Platform account funds are captured into

	// Escrow release settings
	ReleaseAfter  time.Duration // Age at which a pending payment gets a time-based trigger
	SweepInterval time.Duration // How often the trigger scheduler sweeps
	CloseInterval time.Duration // How often ended auctions are closed
	SettleTimeout time.Duration // Upper bound on a single processor settlement call

	// Security
	RateLimitRPM int

	// Event delivery
	WebhookURL string // Optional endpoint lifecycle events are POSTed to

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultReleaseAfter  = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Minute
	DefaultCloseInterval = 30 * time.Second
	DefaultSettleTimeout = 10 * time.Second
	DefaultRateLimit     = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:    os.Getenv("STRIPE_API_KEY"),
		PlatformAccount: os.Getenv("PLATFORM_ACCOUNT"),
		ReleaseAfter:    getEnvDuration("RELEASE_AFTER", DefaultReleaseAfter),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		CloseInterval:   getEnvDuration("CLOSE_INTERVAL", DefaultCloseInterval),
		SettleTimeout:   getEnvDuration("SETTLE_TIMEOUT", DefaultSettleTimeout),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		WebhookURL:      os.Getenv("EVENT_WEBHOOK_URL"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.ReleaseAfter <= 0 {
		return fmt.Errorf("RELEASE_AFTER must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("SETTLE_TIMEOUT must be positive")
	}
	if c.StripeAPIKey != "" && c.PlatformAccount == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT is required when STRIPE_API_KEY is set")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
