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

	// Ledger settings
	RPCURL     string
	ChainID    int64
	PrivateKey string // Hex-encoded operator key; empty disables on-chain submission

	// Release policy. Milestone fractions are basis points of netTotal;
	// these are deployment parameters, not business constants.
	Release30Bps   int64
	Release40Bps   int64
	WatchThreshold float64       // aggregate completion ratio that satisfies the watch milestone
	DisputeWindow  time.Duration // measured from first qualifying watch event

	// Reconciler settings
	ConfirmPollInterval time.Duration // how often pending submissions are polled
	ConfirmReportAfter  time.Duration // pending longer than this is reported for operator action

	// Security
	AdminSecret   string
	WebhookSecret string
	RateLimitRPM  int

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultRPCURL              = "https://sepolia.base.org"
	DefaultChainID             = 84532
	DefaultRelease30Bps        = 3000
	DefaultRelease40Bps        = 4000
	DefaultWatchThreshold      = 0.8
	DefaultDisputeWindow       = 72 * time.Hour
	DefaultConfirmPollInterval = 15 * time.Second
	DefaultConfirmReportAfter  = 10 * time.Minute
	DefaultRateLimit           = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RPCURL:              getEnv("RPC_URL", DefaultRPCURL),
		ChainID:             getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:          os.Getenv("PRIVATE_KEY"),
		Release30Bps:        getEnvInt64("RELEASE_30_BPS", DefaultRelease30Bps),
		Release40Bps:        getEnvInt64("RELEASE_40_BPS", DefaultRelease40Bps),
		WatchThreshold:      getEnvFloat("WATCH_THRESHOLD", DefaultWatchThreshold),
		DisputeWindow:       getEnvDuration("DISPUTE_WINDOW", DefaultDisputeWindow),
		ConfirmPollInterval: getEnvDuration("CONFIRM_POLL_INTERVAL", DefaultConfirmPollInterval),
		ConfirmReportAfter:  getEnvDuration("CONFIRM_REPORT_AFTER", DefaultConfirmReportAfter),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.Release30Bps <= 0 || c.Release40Bps <= c.Release30Bps || c.Release40Bps > 10_000 {
		return fmt.Errorf("milestone fractions must satisfy 0 < RELEASE_30_BPS < RELEASE_40_BPS <= 10000 (got %d, %d)",
			c.Release30Bps, c.Release40Bps)
	}

	if c.WatchThreshold <= 0 || c.WatchThreshold > 1 {
		return fmt.Errorf("WATCH_THRESHOLD must be in (0, 1], got %f", c.WatchThreshold)
	}

	if c.DisputeWindow <= 0 {
		return fmt.Errorf("DISPUTE_WINDOW must be positive")
	}

	if c.PrivateKey != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when PRIVATE_KEY is set")
		}
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
