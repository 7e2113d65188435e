package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertLiveTrade persists one realized trade. The unique index on
// (ticket, exit_time) makes webhook retries idempotent: a duplicate insert
// is silently dropped and reported via the inserted return.
func (db *DB) InsertLiveTrade(ctx context.Context, t *LiveTrade) (inserted bool, err error) {
	if db.Pool == nil {
		return false, nil
	}

	query := `
		INSERT INTO live_trades (
			ticket, account_id, symbol, direction, volume,
			entry_price, exit_price, entry_time, exit_time,
			commission, swap, profit_gross, profit_net, strategy, exit_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (ticket, exit_time) DO NOTHING
		RETURNING id`

	err = db.Pool.QueryRow(ctx, query,
		t.Ticket, t.AccountID, t.Symbol, t.Direction, t.Volume,
		t.EntryPrice, t.ExitPrice, nullableTime(t.EntryTime), t.ExitTime,
		t.Commission, t.Swap, t.ProfitGross, t.ProfitNet, t.Strategy, t.ExitReason,
	).Scan(&t.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil // conflict, already recorded
		}
		return false, fmt.Errorf("failed to insert live trade: %w", err)
	}
	return true, nil
}

// ClosedPnLSince sums net profit of trades closed at or after the cutoff.
func (db *DB) ClosedPnLSince(ctx context.Context, accountID string, since time.Time) (float64, error) {
	if db.Pool == nil {
		return 0, nil
	}
	var pnl float64
	err := db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(profit_net), 0) FROM live_trades
		 WHERE account_id = $1 AND exit_time >= $2`,
		accountID, since,
	).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("failed to sum closed pnl: %w", err)
	}
	return pnl, nil
}

// ConsecutiveLosses walks the realized-trade tail and counts losses until
// the first non-losing trade.
func (db *DB) ConsecutiveLosses(ctx context.Context, accountID string) (int, error) {
	if db.Pool == nil {
		return 0, nil
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT profit_net FROM live_trades
		 WHERE account_id = $1 ORDER BY exit_time DESC LIMIT 50`,
		accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var profit float64
		if err := rows.Scan(&profit); err != nil {
			return 0, fmt.Errorf("failed to scan trade profit: %w", err)
		}
		if profit >= 0 {
			break
		}
		streak++
	}
	return streak, rows.Err()
}

// TradesSince returns realized trades closed at or after the cutoff,
// ascending by exit time.
func (db *DB) TradesSince(ctx context.Context, accountID string, since time.Time) ([]LiveTrade, error) {
	if db.Pool == nil {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, ticket, account_id, symbol, direction, volume,
		        entry_price, exit_price, COALESCE(entry_time, exit_time), exit_time,
		        commission, swap, profit_gross, profit_net,
		        COALESCE(strategy, ''), COALESCE(exit_reason, '')
		 FROM live_trades
		 WHERE account_id = $1 AND exit_time >= $2 ORDER BY exit_time`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []LiveTrade
	for rows.Next() {
		var t LiveTrade
		if err := rows.Scan(
			&t.ID, &t.Ticket, &t.AccountID, &t.Symbol, &t.Direction, &t.Volume,
			&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
			&t.Commission, &t.Swap, &t.ProfitGross, &t.ProfitNet,
			&t.Strategy, &t.ExitReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
