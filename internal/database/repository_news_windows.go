package database

import (
	"context"
	"fmt"
	"time"
)

// NewsWindowsForDay reads the avoid windows written by the news scanner for
// one calendar day. The core never writes this table.
func (db *DB) NewsWindowsForDay(ctx context.Context, day time.Time) ([]NewsWindowRow, error) {
	if db.Pool == nil {
		return nil, nil
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT id, day, start_time, end_time, currency,
		        COALESCE(impact, ''), COALESCE(event_name, ''), risk_score, is_critical
		 FROM daily_news_windows WHERE day = $1 ORDER BY start_time`,
		day.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query news windows: %w", err)
	}
	defer rows.Close()

	var out []NewsWindowRow
	for rows.Next() {
		var w NewsWindowRow
		if err := rows.Scan(
			&w.ID, &w.Day, &w.StartTime, &w.EndTime, &w.Currency,
			&w.Impact, &w.EventName, &w.RiskScore, &w.IsCritical,
		); err != nil {
			return nil, fmt.Errorf("failed to scan news window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
