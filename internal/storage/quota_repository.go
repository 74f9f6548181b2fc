package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/ratelimit"
)

// QuotaRepository persists daily quota usage so it survives process
// restarts within the same quota window. Stale windows are discarded by
// the tracker on restore — quota resets by wall-clock, not by restart.
type QuotaRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQuotaRepository creates a quota repository.
func NewQuotaRepository(db *sql.DB, log zerolog.Logger) *QuotaRepository {
	return &QuotaRepository{
		db:  db,
		log: log.With().Str("repository", "quotas").Logger(),
	}
}

// SaveAll upserts the current usage of every account.
func (r *QuotaRepository) SaveAll(statuses []ratelimit.QuotaStatus) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO quota_state (provider, account, day_used, day_window_start)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range statuses {
		if _, err := stmt.Exec(s.Provider, s.Account, s.DayUsed, s.DayWindowStart.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert quota %s/%s: %w", s.Provider, s.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quota state: %w", err)
	}
	return nil
}

// RestoreInto seeds a tracker with persisted usage.
func (r *QuotaRepository) RestoreInto(tracker *ratelimit.Tracker) error {
	rows, err := r.db.Query(`SELECT provider, account, day_used, day_window_start FROM quota_state`)
	if err != nil {
		return fmt.Errorf("failed to query quota state: %w", err)
	}
	defer rows.Close()

	restored := 0
	for rows.Next() {
		var provider, account, windowStart string
		var used int
		if err := rows.Scan(&provider, &account, &used, &windowStart); err != nil {
			return fmt.Errorf("failed to scan quota row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, windowStart)
		if err != nil {
			r.log.Warn().Str("provider", provider).Str("account", account).Msg("Unparseable quota window, skipping")
			continue
		}
		tracker.RestoreUsage(provider, account, used, ts)
		restored++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read quota rows: %w", err)
	}

	r.log.Debug().Int("accounts", restored).Msg("Restored quota state")
	return nil
}
