package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadProviders(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: yahoo
    accounts:
      - name: default
        per_minute: 60
        per_day: 2000
  - name: alphavantage
    accounts:
      - name: key-a
        api_key: abc123
        per_minute: 5
        per_day: 25
      - name: key-b
        api_key: def456
        per_minute: 5
        per_day: 25
batch:
  size: 10
  max_concurrency: 2
history_days: 90
`)

	p, err := loadProviders(path)
	require.NoError(t, err)

	require.Len(t, p.Providers, 2)
	assert.Equal(t, "yahoo", p.Providers[0].Name)
	assert.Equal(t, "alphavantage", p.Providers[1].Name)
	require.Len(t, p.Providers[1].Accounts, 2)
	assert.Equal(t, "abc123", p.Providers[1].Accounts[0].APIKey)
	assert.Equal(t, 25, p.Providers[1].Accounts[0].PerDay)

	// Explicit values kept, unset values defaulted.
	assert.Equal(t, 10, p.Batch.Size)
	assert.Equal(t, 2, p.Batch.MaxConcurrency)
	assert.Equal(t, 2, p.Batch.PauseSeconds)
	assert.Equal(t, 3, p.Batch.RetryAttempts)
	assert.Equal(t, 90, p.HistoryDays)
}

func TestLoadProvidersEmptyListFails(t *testing.T) {
	path := writeProvidersFile(t, `providers: []`)

	_, err := loadProviders(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid providers configuration")
}

func TestLoadProvidersUnknownProviderFails(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: bloomberg
    accounts:
      - name: default
`)

	_, err := loadProviders(path)
	require.Error(t, err)
}

func TestLoadProvidersMissingAccountsFails(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: yahoo
    accounts: []
`)

	_, err := loadProviders(path)
	require.Error(t, err)
}

func TestLoadProvidersMissingFile(t *testing.T) {
	_, err := loadProviders(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read providers file")
}

func TestDurationHelpers(t *testing.T) {
	p := &Providers{}
	p.applyDefaults()

	assert.Equal(t, 2*time.Second, p.BatchPause())
	assert.Equal(t, 2000*time.Millisecond, p.RetryDelay())
}

func TestLoadUsesEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeProvidersFile(t, `
providers:
  - name: yahoo
    accounts:
      - name: default
`)
	t.Setenv("HARVEST_DATA_DIR", dir)
	t.Setenv("HARVEST_PROVIDERS_FILE", path)
	t.Setenv("HARVEST_PORT", "9999")
	t.Setenv("HARVEST_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, path, cfg.ProvidersFile)
	require.Len(t, cfg.Providers.Providers, 1)
}
