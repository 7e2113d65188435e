package pnl

import (
	"context"
	"math"
	"sync"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/logging"
)

// Store is the persistence surface LivePnL writes through.
type Store interface {
	InsertLiveTrade(ctx context.Context, t *database.LiveTrade) (bool, error)
	InsertEquitySnapshot(ctx context.Context, s *database.EquitySnapshot) error
	ClosedPnLSince(ctx context.Context, accountID string, since time.Time) (float64, error)
	GetSymbolLossStreak(ctx context.Context, symbol string) (*database.SymbolLossStreak, error)
	UpsertSymbolLossStreak(ctx context.Context, s *database.SymbolLossStreak) error
}

// SummaryFetcher is the broker capability the snapshotter needs.
type SummaryFetcher interface {
	GetAccountSummary(ctx context.Context) (*broker.AccountSummary, error)
}

// LivePnL captures realized trades from position-closed events and
// periodically snapshots account equity and drawdown. One instance per
// account; it is the exclusive owner of equity history.
type LivePnL struct {
	accountID string
	store     Store
	client    SummaryFetcher
	bus       *events.EventBus
	logger    *logging.Logger
	loc       *time.Location
	lossCfg   config.LossStreakConfig
	interval  time.Duration

	mu          sync.Mutex
	runningPeak float64
	maxDDAbs    float64
	maxDDPct    float64
}

// New creates the PnL service. Time boundaries (today, this ISO week) are
// computed in the configured display timezone.
func New(accountID string, store Store, client SummaryFetcher, bus *events.EventBus, lossCfg config.LossStreakConfig, timezone string, interval time.Duration, logger *logging.Logger) *LivePnL {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &LivePnL{
		accountID: accountID,
		store:     store,
		client:    client,
		bus:       bus,
		logger:    logger.WithComponent("live_pnl"),
		loc:       loc,
		lossCfg:   lossCfg,
		interval:  interval,
	}
}

// ProfitNet applies the commission/swap convention: both always reduce the
// gross result regardless of the sign the broker reports them with.
func ProfitNet(gross, commission, swap float64) float64 {
	return gross - math.Abs(commission) - math.Abs(swap)
}

// HandlePositionClosed records one realized trade from a webhook event.
// Replays are idempotent via the (ticket, exit_time) unique index.
func (p *LivePnL) HandlePositionClosed(ctx context.Context, e *database.OrderEvent) error {
	trade := &database.LiveTrade{
		Ticket:      e.Ticket,
		AccountID:   p.accountID,
		Symbol:      e.Symbol,
		Direction:   e.Direction,
		Volume:      e.Volume,
		EntryPrice:  e.EntryPrice,
		ExitPrice:   e.ExitPrice,
		ExitTime:    e.Time,
		Commission:  e.Commission,
		Swap:        e.Swap,
		ProfitGross: e.Profit,
		ProfitNet:   ProfitNet(e.Profit, e.Commission, e.Swap),
		Strategy:    e.Comment,
		ExitReason:  e.Reason,
	}

	inserted, err := p.store.InsertLiveTrade(ctx, trade)
	if err != nil {
		return err
	}
	if !inserted {
		p.logger.Debug("duplicate position_closed ignored", "ticket", e.Ticket)
		return nil
	}

	p.updateLossStreak(ctx, trade)
	return nil
}

// updateLossStreak maintains the per-symbol streak counters the execution
// filter pauses on. A winning or break-even trade clears the streak.
func (p *LivePnL) updateLossStreak(ctx context.Context, trade *database.LiveTrade) {
	streak, err := p.store.GetSymbolLossStreak(ctx, trade.Symbol)
	if err != nil {
		p.logger.Error("failed to load loss streak", "symbol", trade.Symbol, "error", err)
		return
	}

	now := trade.ExitTime.In(p.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)
	// The day column is a bare DATE and comes back as midnight UTC; comparing
	// instants would roll the counter on every trade. Compare calendar dates.
	if y, m, d := streak.Day.Date(); y != now.Year() || m != now.Month() || d != now.Day() {
		streak.Day = today
		streak.DailyLosses = 0
	}

	if trade.ProfitNet >= 0 {
		streak.ConsecutiveLosses = 0
		streak.PausedUntil = nil
	} else {
		streak.ConsecutiveLosses++
		streak.DailyLosses++

		if p.lossCfg.PauseAfterDailyLosses > 0 && streak.DailyLosses >= p.lossCfg.PauseAfterDailyLosses {
			endOfDay := today.Add(24 * time.Hour)
			streak.PausedUntil = &endOfDay
		} else if p.lossCfg.PauseAfterConsecutiveLosses > 0 && streak.ConsecutiveLosses >= p.lossCfg.PauseAfterConsecutiveLosses {
			until := now.Add(time.Duration(p.lossCfg.PauseDurationHours) * time.Hour)
			streak.PausedUntil = &until
		}
	}

	if err := p.store.UpsertSymbolLossStreak(ctx, streak); err != nil {
		p.logger.Error("failed to save loss streak", "symbol", trade.Symbol, "error", err)
	}
}

// DayStart returns the start of the current local day.
func (p *LivePnL) DayStart(now time.Time) time.Time {
	local := now.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
}

// WeekStart returns the start (Monday 00:00 local) of the current ISO week.
func (p *LivePnL) WeekStart(now time.Time) time.Time {
	local := now.In(p.loc)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week that started last Monday
	}
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
	return day.AddDate(0, 0, -(weekday - 1))
}

// ClosedToday sums net profit of trades closed since local midnight.
func (p *LivePnL) ClosedToday(ctx context.Context, now time.Time) (float64, error) {
	return p.store.ClosedPnLSince(ctx, p.accountID, p.DayStart(now))
}

// ClosedThisWeek sums net profit of trades closed this ISO week.
func (p *LivePnL) ClosedThisWeek(ctx context.Context, now time.Time) (float64, error) {
	return p.store.ClosedPnLSince(ctx, p.accountID, p.WeekStart(now))
}

// Start runs the equity snapshot loop until ctx is canceled.
func (p *LivePnL) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Snapshot(ctx)
			}
		}
	}()
}

// Snapshot takes one equity observation. A broker outage is a silent skip;
// the next cadence retries.
func (p *LivePnL) Snapshot(ctx context.Context) {
	summary, err := p.client.GetAccountSummary(ctx)
	if err != nil {
		p.logger.Debug("equity snapshot skipped, broker unreachable", "error", err)
		return
	}

	now := time.Now()
	today, err := p.ClosedToday(ctx, now)
	if err != nil {
		p.logger.Error("failed to read daily pnl", "error", err)
	}
	week, err := p.ClosedThisWeek(ctx, now)
	if err != nil {
		p.logger.Error("failed to read weekly pnl", "error", err)
	}

	ddAbs, ddPct := p.observeEquity(summary.Equity)

	snap := &database.EquitySnapshot{
		Time:           now.UTC(),
		AccountID:      p.accountID,
		Balance:        summary.Balance,
		Equity:         summary.Equity,
		ClosedPnLToday: today,
		ClosedPnLWeek:  week,
		DrawdownAbs:    ddAbs,
		DrawdownPct:    ddPct,
	}
	if err := p.store.InsertEquitySnapshot(ctx, snap); err != nil {
		p.logger.Error("failed to persist equity snapshot", "error", err)
	}
	if p.bus != nil {
		p.bus.PublishEquityUpdate(p.accountID, summary.Balance, summary.Equity, ddPct)
	}
}

// observeEquity updates the running peak and returns the session-maximum
// drawdown, which is monotone non-decreasing by construction.
func (p *LivePnL) observeEquity(equity float64) (abs, pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if equity > p.runningPeak {
		p.runningPeak = equity
	}
	if p.runningPeak > 0 {
		dd := p.runningPeak - equity
		if dd > p.maxDDAbs {
			p.maxDDAbs = dd
		}
		if ddPct := dd / p.runningPeak * 100; ddPct > p.maxDDPct {
			p.maxDDPct = ddPct
		}
	}
	return p.maxDDAbs, p.maxDDPct
}
