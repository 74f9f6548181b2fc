package clientdata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/storage"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := storage.New(storage.Config{
		Path: filepath.Join(t.TempDir(), "cache.db"),
		Name: "cache",
	})
	require.NoError(t, err)
	require.NoError(t, db.InitCacheSchema())
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.Conn())
}

type samplePayload struct {
	Symbol string            `msgpack:"symbol"`
	Values map[string]string `msgpack:"values"`
}

func TestStoreAndLoad(t *testing.T) {
	repo := testRepo(t)

	in := samplePayload{
		Symbol: "AAPL",
		Values: map[string]string{"RevenueTTM": "1000"},
	}
	require.NoError(t, repo.Store("alphavantage_overview", "AAPL", in, time.Hour))

	var out samplePayload
	found, err := repo.Load("alphavantage_overview", "AAPL", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)
}

func TestLoadMissingKey(t *testing.T) {
	repo := testRepo(t)

	var out samplePayload
	found, err := repo.Load("alphavantage_overview", "NOPE", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpiredEntryNotReturned(t *testing.T) {
	repo := testRepo(t)

	require.NoError(t, repo.Store("alphavantage_overview", "AAPL", samplePayload{Symbol: "AAPL"}, -time.Minute))

	var out samplePayload
	found, err := repo.Load("alphavantage_overview", "AAPL", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreReplacesExisting(t *testing.T) {
	repo := testRepo(t)

	require.NoError(t, repo.Store("alphavantage_overview", "AAPL", samplePayload{Symbol: "old"}, time.Hour))
	require.NoError(t, repo.Store("alphavantage_overview", "AAPL", samplePayload{Symbol: "new"}, time.Hour))

	var out samplePayload
	found, err := repo.Load("alphavantage_overview", "AAPL", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", out.Symbol)
}

func TestInvalidTableRejected(t *testing.T) {
	repo := testRepo(t)

	err := repo.Store("users; DROP TABLE payload_cache", "k", samplePayload{}, time.Hour)
	require.Error(t, err)

	_, err = repo.Load("unknown_table", "k", &samplePayload{})
	require.Error(t, err)
}

func TestCleanupExpired(t *testing.T) {
	repo := testRepo(t)

	require.NoError(t, repo.Store("alphavantage_overview", "FRESH", samplePayload{Symbol: "FRESH"}, time.Hour))
	require.NoError(t, repo.Store("alphavantage_overview", "STALE", samplePayload{Symbol: "STALE"}, -time.Minute))
	require.NoError(t, repo.Store("alphavantage_balance_sheet", "STALE2", samplePayload{Symbol: "STALE2"}, -time.Minute))

	removed, err := repo.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var out samplePayload
	found, err := repo.Load("alphavantage_overview", "FRESH", &out)
	require.NoError(t, err)
	assert.True(t, found)
}
