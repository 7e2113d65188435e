package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/execution"
	"smc-trading-core/internal/exposure"
	"smc-trading-core/internal/guardrail"
	"smc-trading-core/internal/killswitch"
	"smc-trading-core/internal/logging"
	"smc-trading-core/internal/risk"
	"smc-trading-core/internal/smc"
)

// strategyTag labels outbound orders; the bridge echoes it in the position
// comment, which is how closed trades are attributed afterwards.
const strategyTag = "smc"

// Gateway is the broker surface the dispatcher needs per account.
type Gateway interface {
	OpenTrade(ctx context.Context, req *broker.OpenTradeRequest) (*broker.TradeResponse, error)
	GetPrice(ctx context.Context, symbol string) (*broker.PriceQuote, error)
	GetAccountSummary(ctx context.Context) (*broker.AccountSummary, error)
	SymbolInfoFor(symbol string) *broker.SymbolInfo
}

// KillEvaluator is the per-account kill switch.
type KillEvaluator interface {
	Evaluate(ctx context.Context, in killswitch.Inputs) killswitch.Status
}

// RiskEvaluator is the per-account risk manager.
type RiskEvaluator interface {
	CanTakeNewTrade(in risk.Inputs) risk.Decision
}

// FilterEvaluator is the per-account execution filter.
type FilterEvaluator interface {
	Check(ctx context.Context, in execution.Inputs) execution.Result
}

// PnLReader supplies realized PnL aggregates and period boundaries.
type PnLReader interface {
	ClosedToday(ctx context.Context, now time.Time) (float64, error)
	ClosedThisWeek(ctx context.Context, now time.Time) (float64, error)
	DayStart(now time.Time) time.Time
	WeekStart(now time.Time) time.Time
}

// History reads account aggregates from the database.
type History interface {
	ConsecutiveLosses(ctx context.Context, accountID string) (int, error)
	CountAccountTradesSince(ctx context.Context, accountID string, since time.Time) (int, error)
	DayStartEquity(ctx context.Context, accountID string, dayStart time.Time) (float64, error)
}

// ExposureReader returns the account's latest exposure snapshot.
type ExposureReader interface {
	Current() *exposure.Snapshot
}

// PlanWriter persists the exit plan for a freshly opened trade.
type PlanWriter interface {
	Save(ctx context.Context, plan *database.ExitPlan) error
}

// Recorder appends decision rows.
type Recorder interface {
	Record(ctx context.Context, d *database.TradeDecision)
}

// Account bundles everything scoped to one brokerage account. Kill switch,
// risk and exposure state never cross account boundaries.
type Account struct {
	Cfg      config.AccountConfig
	Client   Gateway
	Kill     KillEvaluator
	Risk     RiskEvaluator
	Filter   FilterEvaluator
	PnL      PnLReader
	History  History
	Exposure ExposureReader
	Plans    PlanWriter
}

func (a *Account) trades(symbol string) bool {
	for _, s := range a.Cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Dispatcher fans a symbol-level signal out to every account trading that
// symbol and re-runs the account-scoped gates before sending the order.
type Dispatcher struct {
	accounts []*Account
	rules    func(symbol string) config.SymbolRules
	log      Recorder
	bus      *events.EventBus
	exitCfg  config.ExitConfig
	logger   *logging.Logger
}

// New creates the dispatcher.
func New(accounts []*Account, rules func(string) config.SymbolRules, log Recorder, bus *events.EventBus, exitCfg config.ExitConfig, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		accounts: accounts,
		rules:    rules,
		log:      log,
		bus:      bus,
		exitCfg:  exitCfg,
		logger:   logger.WithComponent("dispatcher"),
	}
}

// Dispatch routes one signal. Each eligible account gets its own decision
// row; a failure in one account never short-circuits the others.
func (d *Dispatcher) Dispatch(ctx context.Context, sig *smc.Signal, verdict guardrail.Verdict, now time.Time) {
	for _, acct := range d.accounts {
		if !acct.trades(sig.Symbol) {
			continue
		}
		d.dispatchOne(ctx, acct, sig, verdict, now)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, acct *Account, sig *smc.Signal, verdict guardrail.Verdict, now time.Time) {
	record := &database.TradeDecision{
		Time:            now.UTC(),
		AccountID:       acct.Cfg.ID,
		Symbol:          sig.Symbol,
		Strategy:        acct.Cfg.RiskTier,
		Decision:        "skip",
		GuardrailMode:   string(verdict.Mode),
		GuardrailReason: verdict.Reason,
		Signal:          signalMap(sig),
	}
	defer d.log.Record(ctx, record)

	summary, err := acct.Client.GetAccountSummary(ctx)
	if err != nil {
		record.FilterReasons = []string{fmt.Sprintf("broker unavailable: %v", err)}
		return
	}
	quote, err := acct.Client.GetPrice(ctx, sig.Symbol)
	if err != nil {
		record.FilterReasons = []string{fmt.Sprintf("no quote for %s: %v", sig.Symbol, err)}
		return
	}

	info := acct.Client.SymbolInfoFor(sig.Symbol)
	spreadPips := 0.0
	if info != nil && info.PipSize > 0 {
		spreadPips = (quote.Ask - quote.Bid) / info.PipSize
	}

	snap := currentExposure(acct)
	state := d.gatherState(ctx, acct, now)

	ksStatus := d.evaluateKill(ctx, acct, spreadPips, snap, state, now)
	record.KillSwitchActive = ksStatus.Active
	record.KillSwitchReasons = ksStatus.Reasons
	if ksStatus.Active {
		return
	}

	riskDecision := acct.Risk.CanTakeNewTrade(risk.Inputs{
		Symbol:         sig.Symbol,
		Tier:           acct.Cfg.RiskTier,
		Equity:         summary.Equity,
		DayStartEquity: state.dayStartEquity,
		ClosedPnLToday: state.closedToday,
		TradesToday:    state.tradesToday,
		GuardrailMode:  verdict.Mode,
	})
	if !riskDecision.Allowed {
		record.RiskReason = riskDecision.Reason
		return
	}

	lot := risk.PositionSize(info, summary.Equity, riskDecision.AdjustedRiskPct, sig.RiskDistance())
	if lot <= 0 {
		record.RiskReason = "position size is zero"
		return
	}
	estimatedRisk := sig.RiskDistance() * lot

	filterResult := acct.Filter.Check(ctx, execution.Inputs{
		AccountID:     acct.Cfg.ID,
		Signal:        sig,
		Rules:         d.rules(sig.Symbol),
		SpreadPips:    spreadPips,
		EstimatedRisk: estimatedRisk,
		Exposure:      snap,
		DayStart:      acct.PnL.DayStart(now),
		Now:           now,
	})
	record.FilterReasons = filterResult.Reasons
	if !filterResult.Allowed {
		return
	}

	req := &broker.OpenTradeRequest{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		OrderKind:  sig.OrderKind,
		EntryPrice: sig.Entry,
		LotSize:    lot,
		StopLoss:   sig.SL,
		TakeProfit: sig.TP,
		Strategy:   strategyTag,
	}
	record.Decision = "trade"
	record.TradeRequest = map[string]any{
		"symbol": req.Symbol, "direction": req.Direction, "order_kind": req.OrderKind,
		"entry_price": req.EntryPrice, "lot_size": req.LotSize,
		"stop_loss": req.StopLoss, "take_profit": req.TakeProfit,
		"strategy": req.Strategy,
	}

	resp, err := acct.Client.OpenTrade(ctx, req)
	if err != nil {
		result := map[string]any{"error": err.Error()}
		var rejection *broker.TradeError
		if errors.As(err, &rejection) {
			result["code"] = rejection.Code
			result["transient"] = rejection.IsTransient()
			if rejection.IsTransient() {
				d.logger.Warn("broker rejected trade, condition is transient",
					"account", acct.Cfg.ID, "symbol", sig.Symbol, "code", rejection.Code)
			}
		}
		record.ExecutionResult = result
		d.publishOrder(events.EventOrderRejected, acct.Cfg.ID, 0, sig, map[string]interface{}{"error": err.Error()})
		return
	}
	record.ExecutionResult = map[string]any{"success": resp.Success, "ticket": resp.Ticket, "error": resp.Error}
	if !resp.Success {
		d.logger.Warn("trade rejected by broker", "account", acct.Cfg.ID, "symbol", sig.Symbol, "error", resp.Error)
		d.publishOrder(events.EventOrderRejected, acct.Cfg.ID, resp.Ticket, sig, map[string]interface{}{"error": resp.Error})
		return
	}

	d.logger.Info("trade sent", "account", acct.Cfg.ID, "symbol", sig.Symbol,
		"direction", sig.Direction, "lot", lot, "ticket", resp.Ticket)
	d.publishOrder(events.EventOrderSent, acct.Cfg.ID, resp.Ticket, sig, map[string]interface{}{"lot_size": lot})

	d.savePlan(ctx, acct, sig, resp.Ticket, now)
}

// RefreshKillSwitches re-evaluates every account's kill switch on a tick
// that produced no signal. Loss-limit breaches and the daily or weekly
// auto-resume must not wait for the next setup to show up.
func (d *Dispatcher) RefreshKillSwitches(ctx context.Context, symbol string, now time.Time) {
	for _, acct := range d.accounts {
		if !acct.trades(symbol) {
			continue
		}
		spreadPips := 0.0
		if quote, err := acct.Client.GetPrice(ctx, symbol); err == nil {
			if info := acct.Client.SymbolInfoFor(symbol); info != nil && info.PipSize > 0 {
				spreadPips = (quote.Ask - quote.Bid) / info.PipSize
			}
		}
		d.evaluateKill(ctx, acct, spreadPips, currentExposure(acct), d.gatherState(ctx, acct, now), now)
	}
}

func (d *Dispatcher) evaluateKill(ctx context.Context, acct *Account, spreadPips float64, snap *exposure.Snapshot, state accountState, now time.Time) killswitch.Status {
	return acct.Kill.Evaluate(ctx, killswitch.Inputs{
		DailyClosedPnL:      state.closedToday,
		WeeklyClosedPnL:     state.closedWeek,
		DayStartEquity:      state.dayStartEquity,
		WeekStartEquity:     state.dayStartEquity,
		ConsecutiveLosses:   state.consecutiveLosses,
		DailyTrades:         state.tradesToday,
		WeeklyTrades:        state.tradesWeek,
		SpreadPips:          spreadPips,
		GlobalEstimatedRisk: snap.TotalEstimatedRisk,
		Now:                 now,
	})
}

// savePlan seeds the exit engine for the new ticket.
func (d *Dispatcher) savePlan(ctx context.Context, acct *Account, sig *smc.Signal, ticket int64, now time.Time) {
	if acct.Plans == nil {
		return
	}
	tp := sig.TP
	plan := &database.ExitPlan{
		Ticket:     ticket,
		AccountID:  acct.Cfg.ID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: sig.Entry,
		InitialSL:  sig.SL,
		TakeProfit: &tp,
		OpenedAt:   now.UTC(),
	}
	if err := acct.Plans.Save(ctx, plan); err != nil {
		d.logger.Error("failed to save exit plan", "ticket", ticket, "error", err)
	}
}

func (d *Dispatcher) publishOrder(eventType events.EventType, accountID string, ticket int64, sig *smc.Signal, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["direction"] = sig.Direction
	data["entry"] = sig.Entry
	d.bus.PublishOrderEvent(eventType, accountID, ticket, sig.Symbol, data)
}

type accountState struct {
	closedToday       float64
	closedWeek        float64
	dayStartEquity    float64
	consecutiveLosses int
	tradesToday       int
	tradesWeek        int
}

// gatherState assembles the aggregates the gates decide on. Individual read
// failures degrade to zero values; the conservative gates stay meaningful.
func (d *Dispatcher) gatherState(ctx context.Context, acct *Account, now time.Time) accountState {
	var state accountState
	var err error

	if state.closedToday, err = acct.PnL.ClosedToday(ctx, now); err != nil {
		d.logger.Error("daily pnl read failed", "account", acct.Cfg.ID, "error", err)
	}
	if state.closedWeek, err = acct.PnL.ClosedThisWeek(ctx, now); err != nil {
		d.logger.Error("weekly pnl read failed", "account", acct.Cfg.ID, "error", err)
	}
	if acct.History != nil {
		if state.consecutiveLosses, err = acct.History.ConsecutiveLosses(ctx, acct.Cfg.ID); err != nil {
			d.logger.Error("loss streak read failed", "account", acct.Cfg.ID, "error", err)
		}
		if state.tradesToday, err = acct.History.CountAccountTradesSince(ctx, acct.Cfg.ID, acct.PnL.DayStart(now)); err != nil {
			d.logger.Error("daily trade count read failed", "account", acct.Cfg.ID, "error", err)
		}
		if state.tradesWeek, err = acct.History.CountAccountTradesSince(ctx, acct.Cfg.ID, acct.PnL.WeekStart(now)); err != nil {
			d.logger.Error("weekly trade count read failed", "account", acct.Cfg.ID, "error", err)
		}
		if state.dayStartEquity, err = acct.History.DayStartEquity(ctx, acct.Cfg.ID, acct.PnL.DayStart(now)); err != nil {
			d.logger.Error("day start equity read failed", "account", acct.Cfg.ID, "error", err)
		}
	}
	return state
}

func currentExposure(acct *Account) *exposure.Snapshot {
	if acct.Exposure == nil {
		return &exposure.Snapshot{Symbols: map[string]exposure.SymbolExposure{}}
	}
	if snap := acct.Exposure.Current(); snap != nil {
		return snap
	}
	return &exposure.Snapshot{Symbols: map[string]exposure.SymbolExposure{}}
}

func signalMap(sig *smc.Signal) map[string]any {
	return map[string]any{
		"Symbol":    sig.Symbol,
		"Direction": sig.Direction,
		"OrderKind": sig.OrderKind,
		"Entry":     sig.Entry,
		"SL":        sig.SL,
		"TP":        sig.TP,
		"Reason":    sig.Reason,
		"Meta":      sig.Meta,
	}
}
