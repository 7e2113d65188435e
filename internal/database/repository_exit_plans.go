package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertExitPlan writes the per-ticket exit state, replacing any prior row.
func (db *DB) UpsertExitPlan(ctx context.Context, p *ExitPlan) error {
	if db.Pool == nil {
		return nil
	}

	query := `
		INSERT INTO exit_plans (
			ticket, account_id, symbol, direction, entry_price, initial_sl,
			take_profit, break_even_done, partial_done, current_sl,
			last_trail_at, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (ticket) DO UPDATE SET
			break_even_done = EXCLUDED.break_even_done,
			partial_done = EXCLUDED.partial_done,
			current_sl = EXCLUDED.current_sl,
			last_trail_at = EXCLUDED.last_trail_at,
			take_profit = EXCLUDED.take_profit,
			updated_at = NOW()`

	_, err := db.Pool.Exec(ctx, query,
		p.Ticket, p.AccountID, p.Symbol, p.Direction, p.EntryPrice, p.InitialSL,
		p.TakeProfit, p.BreakEvenDone, p.PartialDone, p.CurrentSL,
		p.LastTrailAt, nullableTime(p.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert exit plan: %w", err)
	}
	return nil
}

// GetExitPlan loads the plan for a ticket; nil when the ticket runs on
// static SL/TP only.
func (db *DB) GetExitPlan(ctx context.Context, ticket int64) (*ExitPlan, error) {
	if db.Pool == nil {
		return nil, nil
	}

	var p ExitPlan
	var openedAt *time.Time
	err := db.Pool.QueryRow(ctx,
		`SELECT ticket, account_id, symbol, direction, entry_price, initial_sl,
		        take_profit, break_even_done, partial_done, current_sl,
		        last_trail_at, opened_at
		 FROM exit_plans WHERE ticket = $1`,
		ticket,
	).Scan(
		&p.Ticket, &p.AccountID, &p.Symbol, &p.Direction, &p.EntryPrice, &p.InitialSL,
		&p.TakeProfit, &p.BreakEvenDone, &p.PartialDone, &p.CurrentSL,
		&p.LastTrailAt, &openedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load exit plan: %w", err)
	}
	if openedAt != nil {
		p.OpenedAt = *openedAt
	}
	return &p, nil
}

// DeleteExitPlan removes the plan after the position is fully closed.
func (db *DB) DeleteExitPlan(ctx context.Context, ticket int64) error {
	if db.Pool == nil {
		return nil
	}
	if _, err := db.Pool.Exec(ctx, `DELETE FROM exit_plans WHERE ticket = $1`, ticket); err != nil {
		return fmt.Errorf("failed to delete exit plan: %w", err)
	}
	return nil
}
