package storage

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

// DerivedRepository persists the derived products: ratio sets and
// indicator sets. Both are replace-on-write per (ticker, date) — derived
// data is recomputed whenever its inputs change, never hand-edited.
type DerivedRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDerivedRepository creates a derived-data repository.
func NewDerivedRepository(db *sql.DB, log zerolog.Logger) *DerivedRepository {
	return &DerivedRepository{
		db:  db,
		log: log.With().Str("repository", "derived").Logger(),
	}
}

// UpsertRatios replaces the ratio rows for (ticker, date).
func (r *DerivedRepository) UpsertRatios(set *domain.RatioSet) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ratios WHERE ticker = ? AND date = ?`, set.Ticker, set.Date); err != nil {
		return fmt.Errorf("failed to clear ratio rows: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ratios (ticker, date, name, value, reason, capped)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for name, rv := range set.Ratios {
		var value sql.NullFloat64
		if rv.Value != nil {
			value = sql.NullFloat64{Float64: *rv.Value, Valid: true}
		}
		capped := 0
		if rv.Capped {
			capped = 1
		}
		if _, err := stmt.Exec(set.Ticker, set.Date, name, value, rv.Reason, capped); err != nil {
			return fmt.Errorf("failed to insert ratio %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ratios: %w", err)
	}
	return nil
}

// UpsertIndicators replaces the indicator rows for (ticker, date).
func (r *DerivedRepository) UpsertIndicators(set *domain.IndicatorSet) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM indicators WHERE ticker = ? AND date = ?`, set.Ticker, set.Date); err != nil {
		return fmt.Errorf("failed to clear indicator rows: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO indicators (ticker, date, name, value, reason)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for name, iv := range set.Indicators {
		var value sql.NullFloat64
		if iv.Value != nil {
			value = sql.NullFloat64{Float64: *iv.Value, Valid: true}
		}
		if _, err := stmt.Exec(set.Ticker, set.Date, name, value, iv.Reason); err != nil {
			return fmt.Errorf("failed to insert indicator %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit indicators: %w", err)
	}
	return nil
}

// GetRatios loads the ratio set for (ticker, date). Returns nil when no
// rows exist.
func (r *DerivedRepository) GetRatios(ticker, date string) (*domain.RatioSet, error) {
	rows, err := r.db.Query(`
		SELECT name, value, reason, capped FROM ratios
		WHERE ticker = ? AND date = ?
	`, ticker, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratios: %w", err)
	}
	defer rows.Close()

	set := &domain.RatioSet{Ticker: ticker, Date: date, Ratios: make(map[string]domain.RatioValue)}
	for rows.Next() {
		var name, reason string
		var value sql.NullFloat64
		var capped int
		if err := rows.Scan(&name, &value, &reason, &capped); err != nil {
			return nil, fmt.Errorf("failed to scan ratio: %w", err)
		}
		rv := domain.RatioValue{Reason: reason, Capped: capped != 0}
		if value.Valid {
			v := value.Float64
			rv.Value = &v
		}
		set.Ratios[name] = rv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratios: %w", err)
	}
	if len(set.Ratios) == 0 {
		return nil, nil
	}
	return set, nil
}
