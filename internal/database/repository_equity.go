package database

import (
	"context"
	"fmt"
	"time"
)

// InsertEquitySnapshot appends one equity observation.
func (db *DB) InsertEquitySnapshot(ctx context.Context, s *EquitySnapshot) error {
	if db.Pool == nil {
		return nil
	}

	query := `
		INSERT INTO live_equity (
			time, account_id, balance, equity,
			closed_pnl_today, closed_pnl_week, drawdown_abs, drawdown_pct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if s.Time.IsZero() {
		s.Time = time.Now().UTC()
	}
	err := db.Pool.QueryRow(ctx, query,
		s.Time, s.AccountID, s.Balance, s.Equity,
		s.ClosedPnLToday, s.ClosedPnLWeek, s.DrawdownAbs, s.DrawdownPct,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert equity snapshot: %w", err)
	}
	return nil
}

// EquityHistorySince returns the equity series for drawdown computation,
// ascending by time.
func (db *DB) EquityHistorySince(ctx context.Context, accountID string, since time.Time) ([]EquitySnapshot, error) {
	if db.Pool == nil {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, time, account_id, balance, equity,
		        closed_pnl_today, closed_pnl_week, drawdown_abs, drawdown_pct
		 FROM live_equity
		 WHERE account_id = $1 AND time >= $2 ORDER BY time`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity history: %w", err)
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var s EquitySnapshot
		if err := rows.Scan(
			&s.ID, &s.Time, &s.AccountID, &s.Balance, &s.Equity,
			&s.ClosedPnLToday, &s.ClosedPnLWeek, &s.DrawdownAbs, &s.DrawdownPct,
		); err != nil {
			return nil, fmt.Errorf("failed to scan equity snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DayStartEquity returns the first equity reading at or after the local day
// start, falling back to the latest known equity when the day has no rows.
func (db *DB) DayStartEquity(ctx context.Context, accountID string, dayStart time.Time) (float64, error) {
	if db.Pool == nil {
		return 0, nil
	}
	var equity float64
	err := db.Pool.QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT equity FROM live_equity
			 WHERE account_id = $1 AND time >= $2 ORDER BY time LIMIT 1),
			(SELECT equity FROM live_equity
			 WHERE account_id = $1 ORDER BY time DESC LIMIT 1),
			0)`,
		accountID, dayStart,
	).Scan(&equity)
	if err != nil {
		return 0, fmt.Errorf("failed to read day-start equity: %w", err)
	}
	return equity, nil
}
