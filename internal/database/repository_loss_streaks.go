package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSymbolLossStreak loads the streak row for a symbol; zero-valued when
// the symbol has no history yet.
func (db *DB) GetSymbolLossStreak(ctx context.Context, symbol string) (*SymbolLossStreak, error) {
	if db.Pool == nil {
		return &SymbolLossStreak{Symbol: symbol}, nil
	}

	var s SymbolLossStreak
	err := db.Pool.QueryRow(ctx,
		`SELECT symbol, consecutive_losses, daily_losses, COALESCE(day, '1970-01-01'::date), paused_until
		 FROM symbol_loss_streaks WHERE symbol = $1`,
		symbol,
	).Scan(&s.Symbol, &s.ConsecutiveLosses, &s.DailyLosses, &s.Day, &s.PausedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return &SymbolLossStreak{Symbol: symbol}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loss streak: %w", err)
	}
	return &s, nil
}

// UpsertSymbolLossStreak writes the streak row for a symbol.
func (db *DB) UpsertSymbolLossStreak(ctx context.Context, s *SymbolLossStreak) error {
	if db.Pool == nil {
		return nil
	}

	_, err := db.Pool.Exec(ctx,
		`INSERT INTO symbol_loss_streaks (symbol, consecutive_losses, daily_losses, day, paused_until, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (symbol) DO UPDATE SET
			consecutive_losses = EXCLUDED.consecutive_losses,
			daily_losses = EXCLUDED.daily_losses,
			day = EXCLUDED.day,
			paused_until = EXCLUDED.paused_until,
			updated_at = NOW()`,
		s.Symbol, s.ConsecutiveLosses, s.DailyLosses, s.Day, s.PausedUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert loss streak: %w", err)
	}
	return nil
}
