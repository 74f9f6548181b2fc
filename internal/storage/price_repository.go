package storage

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/domain"
)

// PriceRepository persists daily price bars, upsertable by (ticker, date).
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a price repository.
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repository", "prices").Logger(),
	}
}

// UpsertBars writes a bar series in one transaction. Existing (ticker,
// date) rows are replaced, so refetching a window is idempotent.
func (r *PriceRepository) UpsertBars(ticker string, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.Exec(ticker, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("failed to upsert bar %s/%s: %w", ticker, bar.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}

	r.log.Debug().Str("ticker", ticker).Int("bars", len(bars)).Msg("Upserted price bars")
	return nil
}

// GetRecentBars returns up to limit bars for the ticker in chronological
// order (oldest first).
func (r *PriceRepository) GetRecentBars(ticker string, limit int) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT ?
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var bar domain.PriceBar
		if err := rows.Scan(&bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bars: %w", err)
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// GetLatestClose returns the most recent close for the ticker. The second
// return is false when no bars exist.
func (r *PriceRepository) GetLatestClose(ticker string) (float64, bool, error) {
	var closePrice float64
	err := r.db.QueryRow(`
		SELECT close FROM daily_prices
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT 1
	`, ticker).Scan(&closePrice)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest close: %w", err)
	}
	return closePrice, true, nil
}
