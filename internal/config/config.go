// Package config provides configuration management functionality.
// Runtime settings come from environment variables (with .env support);
// the provider universe — priority order, accounts, quota limits — comes
// from a YAML file so operators can reorder the waterfall without a
// rebuild.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AccountConfig is one credential set for a provider.
type AccountConfig struct {
	Name      string `yaml:"name" validate:"required"`
	APIKey    string `yaml:"api_key"`
	PerMinute int    `yaml:"per_minute" validate:"min=0"`
	PerDay    int    `yaml:"per_day" validate:"min=0"`
}

// ProviderConfig is one provider in waterfall priority order.
type ProviderConfig struct {
	Name     string          `yaml:"name" validate:"required,oneof=yahoo alphavantage fmp"`
	Accounts []AccountConfig `yaml:"accounts" validate:"required,min=1,dive"`
}

// BatchConfig controls the orchestrator.
type BatchConfig struct {
	Size           int `yaml:"size" validate:"min=0"`
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=0,max=64"`
	PauseSeconds   int `yaml:"pause_seconds" validate:"min=0"`
	RetryAttempts  int `yaml:"retry_attempts" validate:"min=0,max=10"`
	RetryDelayMS   int `yaml:"retry_delay_ms" validate:"min=0"`
}

// BackupConfig controls the post-run S3 backup.
type BackupConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
}

// Providers is the YAML document describing the acquisition universe.
type Providers struct {
	// Providers in waterfall priority order. An empty list is a fatal
	// configuration error: the pipeline cannot run without sources.
	Providers []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	// Tickers is the acquisition universe.
	Tickers []string `yaml:"tickers"`
	// RequiredFields overrides the default "all canonical fields"
	// sufficiency set for the fundamentals waterfall.
	RequiredFields []string    `yaml:"required_fields"`
	Batch          BatchConfig `yaml:"batch"`
	// HistoryDays is the price-history fetch window.
	HistoryDays int          `yaml:"history_days" validate:"min=0"`
	Backup      BackupConfig `yaml:"backup"`
}

// Config holds the full application configuration.
type Config struct {
	DataDir       string
	LogLevel      string
	Port          int
	Schedule      string // cron spec for the daily run
	ProvidersFile string
	Providers
}

// Load reads configuration from environment variables and the providers
// YAML file.
func Load() (*Config, error) {
	// Load .env file if it exists.
	_ = godotenv.Load()

	dataDir := getEnv("HARVEST_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		LogLevel:      getEnv("HARVEST_LOG_LEVEL", "info"),
		Port:          getEnvInt("HARVEST_PORT", 8090),
		Schedule:      getEnv("HARVEST_SCHEDULE", "0 30 6 * * *"),
		ProvidersFile: getEnv("HARVEST_PROVIDERS_FILE", filepath.Join(absDataDir, "providers.yaml")),
	}

	providers, err := loadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	cfg.Providers = *providers

	return cfg, nil
}

// loadProviders parses and validates the provider universe file.
func loadProviders(path string) (*Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %s: %w", path, err)
	}

	var p Providers
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	p.applyDefaults()

	if err := validator.New().Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid providers configuration: %w", err)
	}
	return &p, nil
}

// applyDefaults fills zero values with operational defaults.
func (p *Providers) applyDefaults() {
	if p.Batch.Size == 0 {
		p.Batch.Size = 25
	}
	if p.Batch.MaxConcurrency == 0 {
		p.Batch.MaxConcurrency = 4
	}
	if p.Batch.PauseSeconds == 0 {
		p.Batch.PauseSeconds = 2
	}
	if p.Batch.RetryAttempts == 0 {
		p.Batch.RetryAttempts = 3
	}
	if p.Batch.RetryDelayMS == 0 {
		p.Batch.RetryDelayMS = 2000
	}
	if p.HistoryDays == 0 {
		p.HistoryDays = 365
	}
}

// BatchPause returns the inter-batch pause as a duration.
func (p *Providers) BatchPause() time.Duration {
	return time.Duration(p.Batch.PauseSeconds) * time.Second
}

// RetryDelay returns the retry delay as a duration.
func (p *Providers) RetryDelay() time.Duration {
	return time.Duration(p.Batch.RetryDelayMS) * time.Millisecond
}

// getEnv retrieves an environment variable with a fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
