package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertDecision appends one decision row.
func (db *DB) InsertDecision(ctx context.Context, d *TradeDecision) error {
	if db.Pool == nil {
		return nil
	}

	query := `
		INSERT INTO trade_decisions (
			time, account_id, symbol, strategy, decision,
			guardrail_mode, guardrail_reason, risk_reason, filter_reasons,
			kill_switch_active, kill_switch_reasons,
			signal, trade_request, execution_result, strategy_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	if d.Time.IsZero() {
		d.Time = time.Now().UTC()
	}
	err := db.Pool.QueryRow(ctx, query,
		d.Time,
		d.AccountID,
		d.Symbol,
		d.Strategy,
		d.Decision,
		d.GuardrailMode,
		d.GuardrailReason,
		d.RiskReason,
		marshalJSON(d.FilterReasons),
		d.KillSwitchActive,
		marshalJSON(d.KillSwitchReasons),
		marshalJSON(d.Signal),
		marshalJSON(d.TradeRequest),
		marshalJSON(d.ExecutionResult),
		d.StrategyError,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to insert trade decision: %w", err)
	}
	return nil
}

// CountTradeDecisionsSince counts committed trades (decision='trade') for a
// symbol since the cutoff. The execution filter reads this instead of an
// in-memory counter so restarts never double-count.
func (db *DB) CountTradeDecisionsSince(ctx context.Context, accountID, symbol string, since time.Time) (int, error) {
	if db.Pool == nil {
		return 0, nil
	}
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trade_decisions
		 WHERE account_id = $1 AND symbol = $2 AND decision = 'trade' AND time >= $3`,
		accountID, symbol, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trade decisions: %w", err)
	}
	return count, nil
}

// CountAccountTradesSince counts committed trades across all symbols.
func (db *DB) CountAccountTradesSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	if db.Pool == nil {
		return 0, nil
	}
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trade_decisions
		 WHERE account_id = $1 AND decision = 'trade' AND time >= $2`,
		accountID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count account trades: %w", err)
	}
	return count, nil
}

// LastTradeTime returns the most recent committed trade time for a symbol,
// zero time when none exists.
func (db *DB) LastTradeTime(ctx context.Context, accountID, symbol string) (time.Time, error) {
	if db.Pool == nil {
		return time.Time{}, nil
	}
	var last *time.Time
	err := db.Pool.QueryRow(ctx,
		`SELECT MAX(time) FROM trade_decisions
		 WHERE account_id = $1 AND symbol = $2 AND decision = 'trade'`,
		accountID, symbol,
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last trade time: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// SkippedSignalsSince returns skip decisions that carried a full signal,
// the raw material for false-negative analysis.
func (db *DB) SkippedSignalsSince(ctx context.Context, since time.Time) ([]TradeDecision, error) {
	if db.Pool == nil {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, time, account_id, symbol, strategy, decision,
		        guardrail_mode, COALESCE(guardrail_reason, ''), COALESCE(risk_reason, ''),
		        COALESCE(filter_reasons, '[]'::jsonb), kill_switch_active, signal
		 FROM trade_decisions
		 WHERE decision = 'skip' AND signal IS NOT NULL AND time >= $1
		 ORDER BY time`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped signals: %w", err)
	}
	defer rows.Close()

	var out []TradeDecision
	for rows.Next() {
		var d TradeDecision
		var filterReasons, signal []byte
		if err := rows.Scan(
			&d.ID, &d.Time, &d.AccountID, &d.Symbol, &d.Strategy, &d.Decision,
			&d.GuardrailMode, &d.GuardrailReason, &d.RiskReason,
			&filterReasons, &d.KillSwitchActive, &signal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan skipped signal: %w", err)
		}
		_ = json.Unmarshal(filterReasons, &d.FilterReasons)
		_ = json.Unmarshal(signal, &d.Signal)
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecentDecisions returns the newest decision rows, newest first. Empty
// accountID means all accounts; symbol-level strategy skips have no account.
func (db *DB) RecentDecisions(ctx context.Context, accountID string, limit int) ([]TradeDecision, error) {
	if db.Pool == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, time, account_id, symbol, strategy, decision,
		        guardrail_mode, COALESCE(guardrail_reason, ''), COALESCE(risk_reason, ''),
		        COALESCE(filter_reasons, '[]'::jsonb), kill_switch_active,
		        COALESCE(strategy_error, '')
		 FROM trade_decisions
		 WHERE ($1 = '' OR account_id = $1)
		 ORDER BY time DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent decisions: %w", err)
	}
	defer rows.Close()

	var out []TradeDecision
	for rows.Next() {
		var d TradeDecision
		var filterReasons []byte
		if err := rows.Scan(
			&d.ID, &d.Time, &d.AccountID, &d.Symbol, &d.Strategy, &d.Decision,
			&d.GuardrailMode, &d.GuardrailReason, &d.RiskReason,
			&filterReasons, &d.KillSwitchActive, &d.StrategyError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recent decision: %w", err)
		}
		_ = json.Unmarshal(filterReasons, &d.FilterReasons)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecisionCountsSince aggregates decision outcomes by (decision, first
// filter reason) for the performance report.
func (db *DB) DecisionCountsSince(ctx context.Context, since time.Time) (traded, skipped int, skipReasons map[string]int, err error) {
	skipReasons = make(map[string]int)
	if db.Pool == nil {
		return 0, 0, skipReasons, nil
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT decision, COALESCE(filter_reasons ->> 0, COALESCE(NULLIF(risk_reason, ''), 'other')), COUNT(*)
		 FROM trade_decisions WHERE time >= $1
		 GROUP BY 1, 2`,
		since,
	)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to aggregate decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var decision, reason string
		var count int
		if err := rows.Scan(&decision, &reason, &count); err != nil {
			return 0, 0, nil, fmt.Errorf("failed to scan decision counts: %w", err)
		}
		if decision == "trade" {
			traded += count
		} else {
			skipped += count
			skipReasons[reason] += count
		}
	}
	return traded, skipped, skipReasons, rows.Err()
}

func marshalJSON(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
