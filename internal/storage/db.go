// Package storage provides the sqlite persistence layer: snapshots, price
// bars, derived sets and quota state, all written as idempotent upserts.
// The core owns no schema migrations; the schema here is bootstrap-only.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DB wraps a database connection with production-grade configuration.
type DB struct {
	conn *sql.DB
	path string
	name string
}

// Config holds database configuration.
type Config struct {
	Path string
	Name string // friendly name for logging (e.g. "harvest", "cache")
}

// New opens a sqlite database with WAL journaling and a busy timeout, and
// verifies the connection.
func New(cfg Config) (*DB, error) {
	// file: URIs (in-memory test databases) skip filepath handling.
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	connStr := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	// sqlite writes are serialized anyway; keeping one writer connection
	// avoids SQLITE_BUSY churn under the worker pool.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, name: cfg.Name}, nil
}

// Conn returns the underlying connection.
func (db *DB) Conn() *sql.DB { return db.conn }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the connection.
func (db *DB) Close() error { return db.conn.Close() }

// schema is the bootstrap DDL for the harvest database. All writes are
// keyed upserts, so re-running the pipeline replaces rather than appends.
const schema = `
CREATE TABLE IF NOT EXISTS fundamental_snapshots (
	ticker     TEXT NOT NULL,
	date       TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      REAL,
	source     TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (ticker, date, field)
);

CREATE TABLE IF NOT EXISTS daily_prices (
	ticker TEXT NOT NULL,
	date   TEXT NOT NULL,
	open   REAL NOT NULL,
	high   REAL NOT NULL,
	low    REAL NOT NULL,
	close  REAL NOT NULL,
	volume INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS ratios (
	ticker TEXT NOT NULL,
	date   TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  REAL,
	reason TEXT NOT NULL,
	capped INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker, date, name)
);

CREATE TABLE IF NOT EXISTS indicators (
	ticker TEXT NOT NULL,
	date   TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  REAL,
	reason TEXT,
	PRIMARY KEY (ticker, date, name)
);

CREATE TABLE IF NOT EXISTS quota_state (
	provider         TEXT NOT NULL,
	account          TEXT NOT NULL,
	day_used         INTEGER NOT NULL DEFAULT 0,
	day_window_start TEXT NOT NULL,
	PRIMARY KEY (provider, account)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_ticker ON daily_prices (ticker, date DESC);
`

// cacheSchema is the bootstrap DDL for the client-data cache database.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS payload_cache (
	tbl        TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (tbl, key)
);

CREATE INDEX IF NOT EXISTS idx_payload_cache_expiry ON payload_cache (expires_at);
`

// InitSchema creates the harvest tables if they do not exist.
func (db *DB) InitSchema() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize %s schema: %w", db.name, err)
	}
	return nil
}

// InitCacheSchema creates the payload cache tables if they do not exist.
func (db *DB) InitCacheSchema() error {
	if _, err := db.conn.Exec(cacheSchema); err != nil {
		return fmt.Errorf("failed to initialize %s cache schema: %w", db.name, err)
	}
	return nil
}
