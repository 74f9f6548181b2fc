package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

// SnapshotRepository persists merged fundamental snapshots. Snapshots are
// replace-on-write per (ticker, date): a re-run replaces the day's rows.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a snapshot repository.
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repository", "snapshots").Logger(),
	}
}

// Upsert replaces the snapshot rows for (ticker, date) in one transaction.
func (r *SnapshotRepository) Upsert(snapshot *domain.FundamentalSnapshot) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM fundamental_snapshots WHERE ticker = ? AND date = ?`,
		snapshot.Ticker, snapshot.Date,
	); err != nil {
		return fmt.Errorf("failed to clear snapshot rows: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO fundamental_snapshots (ticker, date, field, value, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for field, vf := range snapshot.Fields {
		var value sql.NullFloat64
		if vf.Value != nil {
			value = sql.NullFloat64{Float64: *vf.Value, Valid: true}
		}
		if _, err := stmt.Exec(
			snapshot.Ticker, snapshot.Date, string(field),
			value, vf.Source, vf.FetchedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to insert field %s: %w", field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Get loads the snapshot for (ticker, date). Returns nil when no rows
// exist for the key.
func (r *SnapshotRepository) Get(ticker, date string) (*domain.FundamentalSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT field, value, source, fetched_at
		FROM fundamental_snapshots
		WHERE ticker = ? AND date = ?
	`, ticker, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := domain.NewFundamentalSnapshot(ticker, date)
	found := false
	for rows.Next() {
		found = true
		var field, source, fetchedAt string
		var value sql.NullFloat64
		if err := rows.Scan(&field, &value, &source, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		vf := domain.ValuedField{Source: source}
		if value.Valid {
			v := value.Float64
			vf.Value = &v
		}
		if ts, err := time.Parse(time.RFC3339, fetchedAt); err == nil {
			vf.FetchedAt = ts
		}
		snapshot.Fields[domain.Field(field)] = vf
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}
	if !found {
		return nil, nil
	}
	return snapshot, nil
}
