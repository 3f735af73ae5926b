// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider identifiers selectable via STOCK_DATA_PROVIDER.
const (
	ProviderFMP          = "fmp"
	ProviderAlphaVantage = "alphavantage"
)

// Config holds application configuration
type Config struct {
	DataDir            string // Base directory for all databases (always absolute)
	Port               int
	DevMode            bool
	LogLevel           string
	StockDataProvider  string // "fmp" or "alphavantage", chosen once at startup
	FMPAPIKey          string
	AlphaVantageAPIKey string

	// Backfill populator tuning. BatchDelay must stay at or above
	// 60s / max batches per minute for the selected provider.
	PopulateBatchSize  int
	PopulateBatchDelay time.Duration
	PopulateRangeYears int

	// DailyUpdateCron is the schedule for the daily closing-price update job.
	DailyUpdateCron string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HEATMAP_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("PORT", 8080),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		StockDataProvider:  getEnv("STOCK_DATA_PROVIDER", ProviderFMP),
		FMPAPIKey:          getEnv("FMP_API_KEY", ""),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		PopulateBatchSize:  getEnvAsInt("POPULATE_BATCH_SIZE", 10),
		PopulateBatchDelay: getEnvAsDuration("POPULATE_BATCH_DELAY", time.Second),
		PopulateRangeYears: getEnvAsInt("POPULATE_RANGE_YEARS", 1),
		DailyUpdateCron:    getEnv("DAILY_UPDATE_CRON", "0 17 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.StockDataProvider {
	case ProviderFMP, ProviderAlphaVantage:
	default:
		return fmt.Errorf("unknown stock data provider: %q", c.StockDataProvider)
	}

	if c.PopulateBatchSize <= 0 {
		return fmt.Errorf("populate batch size must be positive, got %d", c.PopulateBatchSize)
	}
	if c.PopulateBatchDelay < 0 {
		return fmt.Errorf("populate batch delay must not be negative, got %s", c.PopulateBatchDelay)
	}

	// API keys optional: without one the provider returns errors at call time,
	// which the populator and valuation paths already tolerate.
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
