// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for the cache database (always absolute)
	Port             int
	LogLevel         string
	DevMode          bool
	MarketDataURL    string // Vendor bars endpoint base, e.g. https://data.alpaca.markets
	MarketDataKey    string
	MarketDataSecret string
	MathServiceURL   string // Indicator math service base URL; empty selects the local engine
	ExchangeTimezone string // Timezone for the cache purge schedule
	PurgeEnabled     bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HINDSIGHT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvInt("HINDSIGHT_PORT", 8090),
		LogLevel:         getEnv("HINDSIGHT_LOG_LEVEL", "info"),
		DevMode:          getEnvBool("HINDSIGHT_DEV_MODE", false),
		MarketDataURL:    getEnv("MARKET_DATA_URL", "https://data.alpaca.markets"),
		MarketDataKey:    getEnv("MARKET_DATA_KEY_ID", ""),
		MarketDataSecret: getEnv("MARKET_DATA_SECRET", ""),
		MathServiceURL:   getEnv("MATH_SERVICE_URL", ""),
		ExchangeTimezone: getEnv("EXCHANGE_TIMEZONE", "America/New_York"),
		PurgeEnabled:     getEnvBool("CACHE_PURGE_ENABLED", true),
	}

	return cfg, nil
}

// CacheDBPath returns the path of the cache database file.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
