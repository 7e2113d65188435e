package killswitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/logging"
)

// Inputs is the account state one evaluation decides on. The engine
// assembles it from LivePnL, OpenTrades and DecisionLog each tick.
type Inputs struct {
	DailyClosedPnL      float64
	WeeklyClosedPnL     float64
	DayStartEquity      float64
	WeekStartEquity     float64
	ConsecutiveLosses   int
	DailyTrades         int
	WeeklyTrades        int
	SpreadPips          float64
	GlobalEstimatedRisk float64
	Now                 time.Time
}

// Status is a copy of the switch state; safe to hold across ticks.
type Status struct {
	Active      bool
	Reasons     []string
	ActivatedAt time.Time
}

// TransitionStore persists activation/deactivation events.
type TransitionStore interface {
	InsertKillSwitchEvent(ctx context.Context, e *database.KillSwitchEvent) error
}

// KillSwitch holds the per-account trading halt state. Once a condition
// trips, every decision is blocked until auto-resume on a new local day or
// ISO week, or a manual reset.
type KillSwitch struct {
	cfg       config.KillSwitchConfig
	accountID string
	loc       *time.Location
	store     TransitionStore
	bus       *events.EventBus
	logger    *logging.Logger

	mu          sync.Mutex
	active      bool
	reasons     []string
	activatedAt time.Time
	markerDay   string
	markerWeek  string
}

// New creates a kill switch for one account. An invalid timezone falls back
// to UTC; config validation normally rejects it at boot.
func New(cfg config.KillSwitchConfig, accountID string, store TransitionStore, bus *events.EventBus, logger *logging.Logger) *KillSwitch {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return &KillSwitch{
		cfg:        cfg,
		accountID:  accountID,
		loc:        loc,
		store:      store,
		bus:        bus,
		logger:     logger.WithComponent("kill_switch"),
		markerDay:  dayKey(now),
		markerWeek: weekKey(now),
	}
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Evaluate runs the condition set and returns the resulting state. Called
// once per decision tick; transitions are persisted and published.
func (k *KillSwitch) Evaluate(ctx context.Context, in Inputs) Status {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(k.loc)

	// Auto-resume boundaries come before condition checks so a fresh day
	// starts clean and re-trips only on fresh data.
	if day := dayKey(local); day != k.markerDay {
		if k.active && k.cfg.AutoResumeNextDay {
			k.deactivate(ctx, now, "new trading day")
		}
		k.markerDay = day
	}
	if week := weekKey(local); week != k.markerWeek {
		if k.active && k.cfg.AutoResumeNextWeek {
			k.deactivate(ctx, now, "new trading week")
		}
		k.markerWeek = week
	}

	if !k.active {
		if reasons := k.conditions(in); len(reasons) > 0 {
			k.activate(ctx, now, reasons)
		}
	}
	return k.statusLocked()
}

// conditions returns every breached limit; any one activates the switch.
func (k *KillSwitch) conditions(in Inputs) []string {
	var reasons []string

	if k.cfg.DailyMaxLossCurrency > 0 && in.DailyClosedPnL <= -k.cfg.DailyMaxLossCurrency {
		reasons = append(reasons, fmt.Sprintf("Daily loss limit breached: %.2f <= -%g",
			in.DailyClosedPnL, k.cfg.DailyMaxLossCurrency))
	}
	if k.cfg.DailyMaxLossPct > 0 && in.DayStartEquity > 0 {
		limit := in.DayStartEquity * k.cfg.DailyMaxLossPct / 100
		if in.DailyClosedPnL <= -limit {
			reasons = append(reasons, fmt.Sprintf("Daily loss percent breached: %.2f <= -%.2f (%.1f%% of %.2f)",
				in.DailyClosedPnL, limit, k.cfg.DailyMaxLossPct, in.DayStartEquity))
		}
	}
	if k.cfg.WeeklyMaxLossCurrency > 0 && in.WeeklyClosedPnL <= -k.cfg.WeeklyMaxLossCurrency {
		reasons = append(reasons, fmt.Sprintf("Weekly loss limit breached: %.2f <= -%g",
			in.WeeklyClosedPnL, k.cfg.WeeklyMaxLossCurrency))
	}
	if k.cfg.WeeklyMaxLossPct > 0 && in.WeekStartEquity > 0 {
		limit := in.WeekStartEquity * k.cfg.WeeklyMaxLossPct / 100
		if in.WeeklyClosedPnL <= -limit {
			reasons = append(reasons, fmt.Sprintf("Weekly loss percent breached: %.2f <= -%.2f (%.1f%% of %.2f)",
				in.WeeklyClosedPnL, limit, k.cfg.WeeklyMaxLossPct, in.WeekStartEquity))
		}
	}
	if k.cfg.MaxLosingStreak > 0 && in.ConsecutiveLosses >= k.cfg.MaxLosingStreak {
		reasons = append(reasons, fmt.Sprintf("Losing streak: %d >= %d",
			in.ConsecutiveLosses, k.cfg.MaxLosingStreak))
	}
	if k.cfg.MaxDailyTrades > 0 && in.DailyTrades >= k.cfg.MaxDailyTrades {
		reasons = append(reasons, fmt.Sprintf("Daily trade count reached: %d >= %d",
			in.DailyTrades, k.cfg.MaxDailyTrades))
	}
	if k.cfg.MaxWeeklyTrades > 0 && in.WeeklyTrades >= k.cfg.MaxWeeklyTrades {
		reasons = append(reasons, fmt.Sprintf("Weekly trade count reached: %d >= %d",
			in.WeeklyTrades, k.cfg.MaxWeeklyTrades))
	}
	if k.cfg.MaxSpreadPoints > 0 && in.SpreadPips > k.cfg.MaxSpreadPoints {
		reasons = append(reasons, fmt.Sprintf("Spread too wide: %.1f > %g",
			in.SpreadPips, k.cfg.MaxSpreadPoints))
	}
	if k.cfg.MaxExposureRiskCurrency > 0 && in.GlobalEstimatedRisk > k.cfg.MaxExposureRiskCurrency {
		reasons = append(reasons, fmt.Sprintf("Exposure risk too high: %.2f > %g",
			in.GlobalEstimatedRisk, k.cfg.MaxExposureRiskCurrency))
	}
	return reasons
}

func (k *KillSwitch) activate(ctx context.Context, now time.Time, reasons []string) {
	k.active = true
	k.reasons = reasons
	k.activatedAt = now
	k.logger.Warn("kill switch activated", "account", k.accountID, "reasons", fmt.Sprint(reasons))
	k.persist(ctx, now, true, reasons)
}

func (k *KillSwitch) deactivate(ctx context.Context, now time.Time, reason string) {
	k.active = false
	k.reasons = nil
	k.logger.Info("kill switch deactivated", "account", k.accountID, "reason", reason)
	k.persist(ctx, now, false, []string{reason})
}

func (k *KillSwitch) persist(ctx context.Context, now time.Time, active bool, reasons []string) {
	if k.store != nil {
		event := &database.KillSwitchEvent{
			Time:      now.UTC(),
			AccountID: k.accountID,
			Active:    active,
			Reasons:   reasons,
		}
		if err := k.store.InsertKillSwitchEvent(ctx, event); err != nil {
			k.logger.Error("failed to persist kill switch transition", "error", err)
		}
	}
	if k.bus != nil {
		k.bus.PublishKillSwitchChange(k.accountID, active, reasons)
	}
}

// Reset manually deactivates the switch.
func (k *KillSwitch) Reset(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		k.deactivate(ctx, time.Now(), "manual reset")
	}
}

// Status returns a copy of the current state.
func (k *KillSwitch) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.statusLocked()
}

func (k *KillSwitch) statusLocked() Status {
	reasons := make([]string, len(k.reasons))
	copy(reasons, k.reasons)
	return Status{Active: k.active, Reasons: reasons, ActivatedAt: k.activatedAt}
}
