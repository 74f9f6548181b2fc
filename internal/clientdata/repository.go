// Package clientdata provides persistent caching for external provider
// payloads. Payloads are stored as msgpack blobs with expiration
// timestamps for cache-first behavior: adapters consult the cache before
// spending quota on a network call.
package clientdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// AllTables lists the known cache tables, for cleanup operations.
var AllTables = []string{
	"alphavantage_overview",
	"alphavantage_balance_sheet",
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides cache operations for provider payloads.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// validateTable ensures the table name is in the allowed list.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid cache table: %s", table)
	}
	return nil
}

// Store saves a payload with expiration = now + ttl, replacing any
// existing entry for the key.
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	blob, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO payload_cache (tbl, key, data, expires_at) VALUES (?, ?, ?, ?)`,
		table, key, blob, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store payload: %w", err)
	}
	return nil
}

// Load reads a non-expired payload into out. Returns false when the key is
// missing or expired; expired rows are left for CleanupExpired.
func (r *Repository) Load(table, key string, out interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	var blob []byte
	err := r.db.QueryRow(
		`SELECT data FROM payload_cache WHERE tbl = ? AND key = ? AND expires_at > ?`,
		table, key, time.Now().Unix(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load payload: %w", err)
	}

	if err := msgpack.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return true, nil
}

// CleanupExpired deletes expired entries across all tables and returns the
// number of rows removed.
func (r *Repository) CleanupExpired() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM payload_cache WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired payloads: %w", err)
	}
	return res.RowsAffected()
}
