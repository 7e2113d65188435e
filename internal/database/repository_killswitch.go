package database

import (
	"context"
	"fmt"
	"time"
)

// InsertKillSwitchEvent persists one activation/deactivation transition.
func (db *DB) InsertKillSwitchEvent(ctx context.Context, e *KillSwitchEvent) error {
	if db.Pool == nil {
		return nil
	}

	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO kill_switch_events (time, account_id, active, reasons)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		e.Time, e.AccountID, e.Active, marshalJSON(e.Reasons),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert kill switch event: %w", err)
	}
	return nil
}
