// Package config loads process configuration from the environment, with a
// .env fallback for local development.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all settings for the CLI and API binaries.
type Config struct {
	Port     string
	LogLevel string

	// GCSBucket is where emitted OFX documents are written; empty
	// disables uploads.
	GCSBucket string

	// BigQuery sink for run bookkeeping; empty project disables it.
	BQProject string
	BQDataset string

	// GeminiModel is the extraction model name.
	GeminiModel string

	// Account defaults applied when the vendor payload omits a field.
	DefaultAccountID   string
	DefaultBankID      string
	DefaultAccountType string
	DefaultCurrency    string
}

// Load reads configuration from the environment. A missing .env file is
// fine; OS environment variables are authoritative in production.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		BQProject:          os.Getenv("BQ_PROJECT"),
		BQDataset:          getEnv("BQ_DATASET", "statements"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		DefaultAccountID:   os.Getenv("DEFAULT_ACCOUNT_ID"),
		DefaultBankID:      os.Getenv("DEFAULT_BANK_ID"),
		DefaultAccountType: getEnv("DEFAULT_ACCOUNT_TYPE", "CHECKING"),
		DefaultCurrency:    os.Getenv("DEFAULT_CURRENCY"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
