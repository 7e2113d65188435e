package exits

import (
	"context"
	"math"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/logging"
)

// commissionPerLot is the assumed round-trip cost per 1.0 lot in account
// currency, used by the commission exit when the bridge reports no
// per-position costs.
const commissionPerLot = 7.0

// Broker is the bridge surface the exit engine drives.
type Broker interface {
	GetOpenPositions(ctx context.Context) ([]broker.Position, error)
	GetPrice(ctx context.Context, symbol string) (*broker.PriceQuote, error)
	CloseTrade(ctx context.Context, ticket int64, reason string) (*broker.TradeResponse, error)
	ModifyTrade(ctx context.Context, ticket int64, stopLoss, takeProfit *float64) (*broker.TradeResponse, error)
	PartialClose(ctx context.Context, ticket int64, volumePercent float64) (*broker.TradeResponse, error)
	SymbolInfoFor(symbol string) *broker.SymbolInfo
}

// PlanStore loads and persists per-ticket exit plans.
type PlanStore interface {
	Load(ctx context.Context, accountID string, ticket int64) (*database.ExitPlan, error)
	Save(ctx context.Context, plan *database.ExitPlan) error
	Delete(ctx context.Context, accountID string, ticket int64)
}

// Engine walks open positions every tick and applies each position's exit
// plan. A position without a plan is left to its static SL/TP.
type Engine struct {
	cfg        config.ExitConfig
	accountID  string
	client     Broker
	plans      PlanStore
	bus        *events.EventBus
	killActive func() bool
	logger     *logging.Logger
}

// New creates the engine for one account. killActive is sampled each tick;
// when it reports true every open position is force-closed.
func New(cfg config.ExitConfig, accountID string, client Broker, plans PlanStore, bus *events.EventBus, killActive func() bool, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		accountID:  accountID,
		client:     client,
		plans:      plans,
		bus:        bus,
		killActive: killActive,
		logger:     logger.WithComponent("exit_engine"),
	}
}

// Start runs the tick loop until ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	interval := time.Duration(e.cfg.ExitTickIntervalSec) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx, time.Now())
			}
		}
	}()
}

// Tick evaluates every open position once.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	positions, err := e.client.GetOpenPositions(ctx)
	if err != nil {
		e.logger.Debug("exit tick skipped, positions unavailable", "error", err)
		return
	}

	if e.killActive != nil && e.killActive() {
		e.forceCloseAll(ctx, positions)
		return
	}

	for i := range positions {
		pos := &positions[i]
		plan, err := e.plans.Load(ctx, e.accountID, pos.Ticket)
		if err != nil {
			e.logger.Error("failed to load exit plan", "ticket", pos.Ticket, "error", err)
			continue
		}
		if plan == nil {
			continue
		}
		quote, err := e.client.GetPrice(ctx, pos.Symbol)
		if err != nil {
			e.logger.Debug("exit evaluation skipped, no quote", "symbol", pos.Symbol, "error", err)
			continue
		}
		e.evaluate(ctx, pos, plan, quote, now)
	}
}

// forceCloseAll liquidates every position while the kill switch is active.
func (e *Engine) forceCloseAll(ctx context.Context, positions []broker.Position) {
	for i := range positions {
		pos := &positions[i]
		if _, err := e.client.CloseTrade(ctx, pos.Ticket, string(events.EventKillSwitchForcedExit)); err != nil {
			e.logger.Error("forced close failed", "ticket", pos.Ticket, "error", err)
			continue
		}
		e.logger.Warn("position force closed by kill switch", "ticket", pos.Ticket, "symbol", pos.Symbol)
		e.publish(events.EventKillSwitchForcedExit, pos, nil)
		e.plans.Delete(ctx, e.accountID, pos.Ticket)
	}
}

// evaluate applies the plan's stages in order. At most one closing action
// fires per tick; modifying actions may combine.
func (e *Engine) evaluate(ctx context.Context, pos *broker.Position, plan *database.ExitPlan, quote *broker.PriceQuote, now time.Time) {
	mid := quote.Mid()
	r := math.Abs(plan.EntryPrice - plan.InitialSL)
	favorable := mid - plan.EntryPrice
	if pos.Direction == broker.DirectionSell {
		favorable = plan.EntryPrice - mid
	}

	if e.cfg.BreakEvenEnabled && !plan.BreakEvenDone && r > 0 && favorable >= e.cfg.BreakEvenTriggerR*r {
		e.breakEven(ctx, pos, plan)
	}

	if e.cfg.PartialCloseEnabled && !plan.PartialDone && r > 0 && favorable >= r {
		e.partialClose(ctx, pos, plan)
	}

	if e.cfg.TrailingEnabled && e.cfg.TrailMode == "fixed_pips" {
		e.trail(ctx, pos, plan, mid, now)
	}

	if e.cfg.TimeExitEnabled && e.cfg.TimeLimitMinutes > 0 {
		age := now.Sub(pos.OpenedAt())
		if age > time.Duration(e.cfg.TimeLimitMinutes)*time.Minute {
			e.close(ctx, pos, events.EventTimeExit)
			return
		}
	}

	if e.cfg.CommissionExitEnabled && plan.TakeProfit != nil {
		remaining := math.Abs(*plan.TakeProfit-mid) * pos.Volume
		cost := commissionPerLot * pos.Volume
		if cost >= remaining {
			e.close(ctx, pos, events.EventCommissionExit)
		}
	}
}

// breakEven moves the stop to entry exactly once per position.
func (e *Engine) breakEven(ctx context.Context, pos *broker.Position, plan *database.ExitPlan) {
	entry := plan.EntryPrice
	if _, err := e.client.ModifyTrade(ctx, pos.Ticket, &entry, nil); err != nil {
		e.logger.Error("break-even modify failed", "ticket", pos.Ticket, "error", err)
		return
	}
	plan.BreakEvenDone = true
	plan.CurrentSL = &entry
	e.savePlan(ctx, plan)
	e.logger.Info("break-even set", "ticket", pos.Ticket, "symbol", pos.Symbol, "sl", entry)
	e.publish(events.EventBreakEvenSet, pos, map[string]interface{}{"sl": entry})
}

// partialClose takes the configured fraction off at the first target.
func (e *Engine) partialClose(ctx context.Context, pos *broker.Position, plan *database.ExitPlan) {
	pct := e.cfg.PartialClosePct
	if pct <= 0 || pct >= 100 {
		return
	}
	if _, err := e.client.PartialClose(ctx, pos.Ticket, pct); err != nil {
		e.logger.Error("partial close failed", "ticket", pos.Ticket, "error", err)
		return
	}
	plan.PartialDone = true
	e.savePlan(ctx, plan)
	e.logger.Info("partial close", "ticket", pos.Ticket, "symbol", pos.Symbol, "pct", pct)
	e.publish(events.EventPartialClose, pos, map[string]interface{}{"volume_percent": pct})
}

// trail advances the stop behind price. The stop only ever moves in the
// favorable direction and never back past the initial SL.
func (e *Engine) trail(ctx context.Context, pos *broker.Position, plan *database.ExitPlan, mid float64, now time.Time) {
	info := e.client.SymbolInfoFor(pos.Symbol)
	if info == nil || info.PipSize <= 0 || e.cfg.TrailPips <= 0 {
		return
	}
	throttle := time.Duration(e.cfg.TrailThrottleSec) * time.Second
	if throttle <= 0 {
		throttle = 30 * time.Second
	}
	if plan.LastTrailAt != nil && now.Sub(*plan.LastTrailAt) < throttle {
		return
	}

	current := plan.InitialSL
	if plan.CurrentSL != nil {
		current = *plan.CurrentSL
	}

	distance := e.cfg.TrailPips * info.PipSize
	var candidate float64
	if pos.Direction == broker.DirectionBuy {
		candidate = mid - distance
		if candidate <= current || candidate < plan.InitialSL {
			return
		}
	} else {
		candidate = mid + distance
		if candidate >= current || candidate > plan.InitialSL {
			return
		}
	}

	if _, err := e.client.ModifyTrade(ctx, pos.Ticket, &candidate, nil); err != nil {
		e.logger.Error("trail modify failed", "ticket", pos.Ticket, "error", err)
		return
	}
	plan.CurrentSL = &candidate
	trailedAt := now
	plan.LastTrailAt = &trailedAt
	e.savePlan(ctx, plan)
	e.logger.Debug("trailing stop moved", "ticket", pos.Ticket, "sl", candidate)
	e.publish(events.EventTrailSLMove, pos, map[string]interface{}{"sl": candidate})
}

func (e *Engine) close(ctx context.Context, pos *broker.Position, reason events.EventType) {
	if _, err := e.client.CloseTrade(ctx, pos.Ticket, string(reason)); err != nil {
		e.logger.Error("exit close failed", "ticket", pos.Ticket, "reason", string(reason), "error", err)
		return
	}
	e.logger.Info("position closed by exit engine", "ticket", pos.Ticket, "reason", string(reason))
	e.publish(reason, pos, nil)
	e.plans.Delete(ctx, e.accountID, pos.Ticket)
}

func (e *Engine) savePlan(ctx context.Context, plan *database.ExitPlan) {
	if err := e.plans.Save(ctx, plan); err != nil {
		e.logger.Error("failed to persist exit plan", "ticket", plan.Ticket, "error", err)
	}
}

func (e *Engine) publish(eventType events.EventType, pos *broker.Position, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["direction"] = pos.Direction
	data["volume"] = pos.Volume
	e.bus.PublishOrderEvent(eventType, e.accountID, pos.Ticket, pos.Symbol, data)
}
