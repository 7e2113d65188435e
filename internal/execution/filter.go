package execution

import (
	"context"
	"fmt"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/exposure"
	"smc-trading-core/internal/logging"
	"smc-trading-core/internal/smc"
)

// History is the decision-log surface the filter reads.
type History interface {
	LastTradeTime(ctx context.Context, accountID, symbol string) (time.Time, error)
	CountTradeDecisionsSince(ctx context.Context, accountID, symbol string, since time.Time) (int, error)
	GetSymbolLossStreak(ctx context.Context, symbol string) (*database.SymbolLossStreak, error)
}

// OrderFlowCheck vetoes a direction from live order-flow state.
type OrderFlowCheck func(symbol, direction string) (ok bool, reason string)

// Inputs is everything one filter pass needs beyond the signal itself.
type Inputs struct {
	AccountID     string
	Signal        *smc.Signal
	Rules         config.SymbolRules
	SpreadPips    float64
	EstimatedRisk float64
	Exposure      *exposure.Snapshot
	DayStart      time.Time
	Now           time.Time
}

// Result carries the verdict and every failed check, not just the first, so
// the decision log shows the full picture of why a setup was skipped.
type Result struct {
	Allowed bool
	Reasons []string
}

// Filter runs the pre-trade checks between risk approval and order dispatch.
type Filter struct {
	history         History
	globalLimits    config.GlobalLimits
	maxTradesPerDay int
	orderFlow       OrderFlowCheck
	logger          *logging.Logger
}

// New creates the filter. orderFlow may be nil when order-flow polling is
// disabled; that check then always passes.
func New(history History, limits config.GlobalLimits, maxTradesPerDay int, orderFlow OrderFlowCheck, logger *logging.Logger) *Filter {
	return &Filter{
		history:         history,
		globalLimits:    limits,
		maxTradesPerDay: maxTradesPerDay,
		orderFlow:       orderFlow,
		logger:          logger.WithComponent("execution_filter"),
	}
}

// Check runs every gate in order and accumulates all failures.
func (f *Filter) Check(ctx context.Context, in Inputs) Result {
	var reasons []string
	sig := in.Signal
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	// 1. Session. The strategy already gated on session at signal time; this
	// re-check covers the lag between evaluation and dispatch.
	if session := smc.ActiveSession(in.Rules.Sessions, now); session == "" {
		reasons = append(reasons, "outside trading session")
	}

	// 2. Spread. Equal to the cap is still tradeable.
	if in.Rules.MaxSpreadPips > 0 && in.SpreadPips > in.Rules.MaxSpreadPips {
		reasons = append(reasons, fmt.Sprintf("spread too wide: %.1f > %.1f pips",
			in.SpreadPips, in.Rules.MaxSpreadPips))
	}

	// 3. Cooldown since the last trade on this symbol.
	if in.Rules.CooldownMinutes > 0 && f.history != nil {
		last, err := f.history.LastTradeTime(ctx, in.AccountID, sig.Symbol)
		if err != nil {
			f.logger.Error("cooldown lookup failed", "symbol", sig.Symbol, "error", err)
		} else if !last.IsZero() {
			elapsed := now.Sub(last)
			cooldown := time.Duration(in.Rules.CooldownMinutes) * time.Minute
			if elapsed < cooldown {
				reasons = append(reasons, fmt.Sprintf("cooldown: %.0fm since last trade < %dm",
					elapsed.Minutes(), in.Rules.CooldownMinutes))
			}
		}
	}

	// 4. Daily trade count for this symbol.
	if f.maxTradesPerDay > 0 && f.history != nil {
		count, err := f.history.CountTradeDecisionsSince(ctx, in.AccountID, sig.Symbol, in.DayStart)
		if err != nil {
			f.logger.Error("daily trade count lookup failed", "symbol", sig.Symbol, "error", err)
		} else if count >= f.maxTradesPerDay {
			reasons = append(reasons, fmt.Sprintf("daily trade count reached: %d >= %d",
				count, f.maxTradesPerDay))
		}
	}

	// 5. Structure confluence. The signal must still carry a swept liquidity
	// pool, an order block and a structure break in its own direction.
	if !sig.Meta.LiquiditySwept {
		reasons = append(reasons, "no liquidity sweep behind the setup")
	}
	if sig.Meta.OrderBlockHigh == 0 && sig.Meta.OrderBlockLow == 0 {
		reasons = append(reasons, "no order block behind the setup")
	}
	if !directionAligned(sig.Direction, sig.Meta) {
		reasons = append(reasons, fmt.Sprintf("structure does not back a %s: trend %s, choch %v",
			sig.Direction, sig.Meta.HTFTrend, sig.Meta.Choch))
	}

	// 6. Exposure caps.
	reasons = append(reasons, f.exposureReasons(in)...)

	// 7. Loss-streak pause.
	if f.history != nil {
		streak, err := f.history.GetSymbolLossStreak(ctx, sig.Symbol)
		if err != nil {
			f.logger.Error("loss streak lookup failed", "symbol", sig.Symbol, "error", err)
		} else if streak.PausedUntil != nil && now.Before(*streak.PausedUntil) {
			reasons = append(reasons, fmt.Sprintf("loss streak pause until %s (%d consecutive, %d today)",
				streak.PausedUntil.Format(time.RFC3339), streak.ConsecutiveLosses, streak.DailyLosses))
		}
	}

	// 8. Order flow.
	if f.orderFlow != nil {
		if ok, reason := f.orderFlow(sig.Symbol, sig.Direction); !ok {
			reasons = append(reasons, reason)
		}
	}

	return Result{Allowed: len(reasons) == 0, Reasons: reasons}
}

// exposureReasons applies per-symbol, per-direction and global caps against
// the latest exposure snapshot. A stale snapshot still counts; it is the most
// conservative view available.
func (f *Filter) exposureReasons(in Inputs) []string {
	if in.Exposure == nil {
		return nil
	}
	var reasons []string
	sig := in.Signal
	symExp := in.Exposure.For(sig.Symbol)

	if limit := in.Rules.MaxConcurrentPerSymbol; limit > 0 && symExp.TotalCount >= limit {
		reasons = append(reasons, fmt.Sprintf("Max concurrent trades per symbol reached for %s: %d >= %d",
			sig.Symbol, symExp.TotalCount, limit))
	}
	if limit := in.Rules.MaxConcurrentPerDirection; limit > 0 {
		if n := symExp.DirectionalCount(sig.Direction); n >= limit {
			reasons = append(reasons, fmt.Sprintf("Max concurrent %s trades reached for %s: %d >= %d",
				sig.Direction, sig.Symbol, n, limit))
		}
	}
	if limit := f.globalLimits.MaxConcurrentTradesGlobal; limit > 0 && in.Exposure.TotalOpenTrades >= limit {
		reasons = append(reasons, fmt.Sprintf("Max concurrent trades reached: %d >= %d",
			in.Exposure.TotalOpenTrades, limit))
	}
	if limit := in.Rules.MaxDailyRiskPerSymbol; limit > 0 && symExp.EstimatedRisk+in.EstimatedRisk > limit {
		reasons = append(reasons, fmt.Sprintf("Symbol risk cap exceeded for %s: %.2f + %.2f > %.2f",
			sig.Symbol, symExp.EstimatedRisk, in.EstimatedRisk, limit))
	}
	if limit := f.globalLimits.MaxDailyRiskGlobal; limit > 0 && in.Exposure.TotalEstimatedRisk+in.EstimatedRisk > limit {
		reasons = append(reasons, fmt.Sprintf("Global risk cap exceeded: %.2f + %.2f > %.2f",
			in.Exposure.TotalEstimatedRisk, in.EstimatedRisk, limit))
	}
	return reasons
}

// directionAligned accepts trend continuation or a fresh change of character
// in the signal direction.
func directionAligned(direction string, meta smc.SignalMeta) bool {
	if meta.Choch {
		return true
	}
	if direction == smc.DirectionBuy {
		return meta.HTFTrend == smc.TrendBullish
	}
	return meta.HTFTrend == smc.TrendBearish
}
