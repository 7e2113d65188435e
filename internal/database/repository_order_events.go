package database

import (
	"context"
	"fmt"
	"time"
)

// InsertOrderEvent persists one webhook event.
func (db *DB) InsertOrderEvent(ctx context.Context, e *OrderEvent) error {
	if db.Pool == nil {
		return nil
	}

	query := `
		INSERT INTO order_events (
			time, source, event_type, ticket, symbol, direction, volume,
			entry_price, exit_price, sl, tp, commission, swap, profit,
			reason, comment, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	err := db.Pool.QueryRow(ctx, query,
		e.Time, e.Source, e.EventType, e.Ticket, e.Symbol, e.Direction, e.Volume,
		e.EntryPrice, e.ExitPrice, e.SL, e.TP, e.Commission, e.Swap, e.Profit,
		e.Reason, e.Comment, marshalJSON(e.Payload),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order event: %w", err)
	}
	return nil
}

// OrderEventsForTicket returns the lifecycle history of one ticket,
// ascending by time.
func (db *DB) OrderEventsForTicket(ctx context.Context, ticket int64) ([]OrderEvent, error) {
	if db.Pool == nil {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, time, source, event_type, ticket, COALESCE(symbol, ''),
		        COALESCE(direction, ''), COALESCE(volume, 0),
		        COALESCE(entry_price, 0), COALESCE(exit_price, 0),
		        COALESCE(commission, 0), COALESCE(swap, 0), COALESCE(profit, 0),
		        COALESCE(reason, ''), COALESCE(comment, '')
		 FROM order_events WHERE ticket = $1 ORDER BY time`,
		ticket,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order events: %w", err)
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(
			&e.ID, &e.Time, &e.Source, &e.EventType, &e.Ticket, &e.Symbol,
			&e.Direction, &e.Volume, &e.EntryPrice, &e.ExitPrice,
			&e.Commission, &e.Swap, &e.Profit, &e.Reason, &e.Comment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
