package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"smc-trading-core/config"
	"smc-trading-core/internal/logging"
)

// DB wraps the PostgreSQL connection pool. A nil pool is a valid state: all
// repository methods become no-ops so the core can run without persistence.
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB opens a connection pool and verifies it with a ping.
func NewDB(cfg config.DatabaseConfig, logger *logging.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info("connected to PostgreSQL", "database", cfg.Database)
	return &DB{Pool: pool, logger: log}, nil
}

// Close drains the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// RunMigrations creates the core tables and indices. Safe to run on every
// boot; everything is IF NOT EXISTS.
func (db *DB) RunMigrations(ctx context.Context) error {
	if db.Pool == nil {
		return nil
	}
	db.logger.Info("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trade_decisions (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			account_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			strategy VARCHAR(32) NOT NULL,
			decision VARCHAR(10) NOT NULL,
			guardrail_mode VARCHAR(10) NOT NULL,
			guardrail_reason TEXT,
			risk_reason VARCHAR(64),
			filter_reasons JSONB,
			kill_switch_active BOOLEAN NOT NULL DEFAULT FALSE,
			kill_switch_reasons JSONB,
			signal JSONB,
			trade_request JSONB,
			execution_result JSONB,
			strategy_error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_decisions_symbol_time ON trade_decisions(symbol, time)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_decisions_decision ON trade_decisions(decision)`,

		`CREATE TABLE IF NOT EXISTS order_events (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			source VARCHAR(64) NOT NULL,
			event_type VARCHAR(40) NOT NULL,
			ticket BIGINT,
			symbol VARCHAR(20),
			direction VARCHAR(4),
			volume DECIMAL(12, 4),
			entry_price DECIMAL(20, 8),
			exit_price DECIMAL(20, 8),
			sl DECIMAL(20, 8),
			tp DECIMAL(20, 8),
			commission DECIMAL(12, 4),
			swap DECIMAL(12, 4),
			profit DECIMAL(12, 4),
			reason TEXT,
			comment TEXT,
			payload JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_symbol_time ON order_events(symbol, time)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_ticket ON order_events(ticket)`,

		`CREATE TABLE IF NOT EXISTS live_trades (
			id BIGSERIAL PRIMARY KEY,
			ticket BIGINT NOT NULL,
			account_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			volume DECIMAL(12, 4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMPTZ,
			exit_time TIMESTAMPTZ NOT NULL,
			commission DECIMAL(12, 4) NOT NULL DEFAULT 0,
			swap DECIMAL(12, 4) NOT NULL DEFAULT 0,
			profit_gross DECIMAL(12, 4) NOT NULL,
			profit_net DECIMAL(12, 4) NOT NULL,
			strategy VARCHAR(32),
			exit_reason TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_trades_ticket_exit ON live_trades(ticket, exit_time)`,
		`CREATE INDEX IF NOT EXISTS idx_live_trades_symbol_time ON live_trades(symbol, exit_time)`,

		`CREATE TABLE IF NOT EXISTS live_equity (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			account_id VARCHAR(64) NOT NULL,
			balance DECIMAL(14, 2) NOT NULL,
			equity DECIMAL(14, 2) NOT NULL,
			closed_pnl_today DECIMAL(12, 2) NOT NULL,
			closed_pnl_week DECIMAL(12, 2) NOT NULL,
			drawdown_abs DECIMAL(12, 2) NOT NULL,
			drawdown_pct DECIMAL(8, 4) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_live_equity_account_time ON live_equity(account_id, time)`,

		`CREATE TABLE IF NOT EXISTS kill_switch_events (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			account_id VARCHAR(64) NOT NULL,
			active BOOLEAN NOT NULL,
			reasons JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kill_switch_events_account_time ON kill_switch_events(account_id, time)`,

		`CREATE TABLE IF NOT EXISTS exit_plans (
			ticket BIGINT PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			initial_sl DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8),
			break_even_done BOOLEAN NOT NULL DEFAULT FALSE,
			partial_done BOOLEAN NOT NULL DEFAULT FALSE,
			current_sl DECIMAL(20, 8),
			last_trail_at TIMESTAMPTZ,
			opened_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS symbol_loss_streaks (
			symbol VARCHAR(20) PRIMARY KEY,
			consecutive_losses INT NOT NULL DEFAULT 0,
			daily_losses INT NOT NULL DEFAULT 0,
			day DATE,
			paused_until TIMESTAMPTZ,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Written by the news scanner; the core only reads it.
		`CREATE TABLE IF NOT EXISTS daily_news_windows (
			id BIGSERIAL PRIMARY KEY,
			day DATE NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			currency VARCHAR(8) NOT NULL,
			impact VARCHAR(16),
			event_name TEXT,
			risk_score INT NOT NULL DEFAULT 0,
			is_critical BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_news_windows_day ON daily_news_windows(day)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	db.logger.Info("database migrations complete", "statements", len(migrations))
	return nil
}
