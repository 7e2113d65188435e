package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/api"
	"smc-trading-core/internal/audit"
	"smc-trading-core/internal/avoidwindow"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/decisions"
	"smc-trading-core/internal/dispatch"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/execution"
	"smc-trading-core/internal/exits"
	"smc-trading-core/internal/exposure"
	"smc-trading-core/internal/guardrail"
	"smc-trading-core/internal/killswitch"
	"smc-trading-core/internal/logging"
	"smc-trading-core/internal/marketdata"
	"smc-trading-core/internal/metrics"
	"smc-trading-core/internal/orderflow"
	"smc-trading-core/internal/pnl"
	"smc-trading-core/internal/risk"
	"smc-trading-core/internal/smc"
	"smc-trading-core/internal/vault"

	"github.com/prometheus/client_golang/prometheus"
)

// planStore layers the Redis cache over the exit_plans table. Writes go to
// both so a restart rebuilds hot state from Postgres; reads hit the cache
// first.
type planStore struct {
	cache *database.ExitPlanCache
	db    *database.DB
}

func (s *planStore) Save(ctx context.Context, plan *database.ExitPlan) error {
	if err := s.db.UpsertExitPlan(ctx, plan); err != nil {
		return err
	}
	return s.cache.Save(ctx, plan)
}

func (s *planStore) Load(ctx context.Context, accountID string, ticket int64) (*database.ExitPlan, error) {
	if plan, err := s.cache.Load(ctx, accountID, ticket); err == nil && plan != nil {
		return plan, nil
	}
	return s.db.GetExitPlan(ctx, ticket)
}

func (s *planStore) Delete(ctx context.Context, accountID string, ticket int64) {
	s.cache.Delete(ctx, accountID, ticket)
	_ = s.db.DeleteExitPlan(ctx, ticket)
}

// accountRuntime bundles the per-account components. Nothing in here is
// shared across accounts.
type accountRuntime struct {
	cfg      config.AccountConfig
	client   *broker.Client
	kill     *killswitch.KillSwitch
	riskMgr  *risk.Manager
	filter   *execution.Filter
	exposure *exposure.Tracker
	pnl      *pnl.LivePnL
	exits    *exits.Engine
	avoid    *avoidwindow.Manager
}

// Engine owns every component and runs the per-symbol decision tick. It is
// the api.CoreAPI implementation the status endpoints read.
type Engine struct {
	cfg    *config.Config
	logger *logging.Logger

	db        *database.DB
	planCache *database.ExitPlanCache
	plans     *planStore
	bus       *events.EventBus
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	guard     *guardrail.Client
	vault     *vault.Client

	store        *marketdata.CandleStore
	builder      *marketdata.CandleBuilder
	md           *marketdata.MarketData
	feed         *marketdata.PriceFeed
	marketClient *broker.Client
	symbols      []string

	strategy  *smc.Strategy
	orderFlow *orderflow.Service

	accounts    []*accountRuntime
	dispatchers map[string]*dispatch.Dispatcher // keyed by risk tier

	decisionLog *decisions.Log
	reporter    *decisions.Reporter
	server      *api.Server

	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds the full component graph. Nothing starts running until Start.
func New(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	db, err := database.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.WithComponent("engine"),
		db:          db,
		planCache:   database.NewExitPlanCache(cfg.RedisConfig, logger),
		bus:         events.NewEventBus(),
		guard:       guardrail.NewClient(cfg.GuardrailConfig, logger),
		vault:       vaultClient,
		dispatchers: make(map[string]*dispatch.Dispatcher),
	}
	e.plans = &planStore{cache: e.planCache, db: db}
	e.metrics, e.registry = metrics.New()
	e.metrics.Observe(e.bus)
	audit.New(os.Stdout).Observe(e.bus)

	e.symbols = unionSymbols(cfg.Accounts)
	e.store = marketdata.NewCandleStore(cfg.EngineConfig.MaxCandlesPerSymbol)
	e.builder = marketdata.NewCandleBuilder(e.store)
	e.md = marketdata.NewMarketData(e.store, e.builder)
	e.strategy = smc.NewStrategy(cfg.StrategyConfig, cfg.SymbolRulesFor, e.md)

	if err := e.buildAccounts(); err != nil {
		e.planCache.Close()
		db.Close()
		return nil, err
	}

	// Market data and order flow poll through the first account's bridge;
	// quotes are account-independent.
	e.marketClient = e.accounts[0].client
	feedInterval := time.Duration(cfg.EngineConfig.MarketFeedIntervalSec) * time.Second
	if feedInterval <= 0 {
		feedInterval = time.Second
	}
	e.feed = marketdata.NewPriceFeed(e.marketClient, e.builder, e.symbols, feedInterval, logger)
	e.orderFlow = orderflow.NewService(e.marketClient, cfg.OrderFlowConfig, e.symbols, logger)

	e.decisionLog = decisions.NewLog(db, e.bus, logger)
	e.reporter = decisions.NewReporter(db, e.md, logger)

	e.buildDispatchers()

	e.server = api.NewServer(cfg.ServerConfig, db, e.bus, e, logger)
	e.server.MountMetrics(metrics.Handler(e.registry))
	for _, rt := range e.accounts {
		e.server.RegisterPositionClosedHandler(rt.cfg.ID, rt.pnl.HandlePositionClosed)
	}
	return e, nil
}

func (e *Engine) buildAccounts() error {
	cfg := e.cfg
	exposureInterval := time.Duration(cfg.EngineConfig.ExposurePollIntervalSec) * time.Second
	if exposureInterval <= 0 {
		exposureInterval = 10 * time.Second
	}
	equityInterval := time.Duration(cfg.EngineConfig.EquitySnapshotSec) * time.Second
	if equityInterval <= 0 {
		equityInterval = time.Minute
	}

	for _, acct := range cfg.Accounts {
		login := acct.Login
		if e.vault.IsEnabled() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			creds, err := e.vault.GetCredentials(ctx, acct.ID)
			cancel()
			if err != nil {
				return fmt.Errorf("account %s: vault credentials: %w", acct.ID, err)
			}
			login = creds.Login
		}

		client := broker.NewClient(acct.BrokerBaseURL, login, 10*time.Second)
		kill := killswitch.New(cfg.KillSwitchConfig, acct.ID, e.db, e.bus, e.logger)

		var ofCheck execution.OrderFlowCheck
		if cfg.OrderFlowConfig.Enabled {
			ofCheck = func(symbol, direction string) (bool, string) {
				return e.orderFlow.Check(symbol, direction)
			}
		}
		tier := cfg.TierFor(acct.RiskTier)

		rt := &accountRuntime{
			cfg:      acct,
			client:   client,
			kill:     kill,
			riskMgr:  risk.NewManager(cfg.RiskTiers, cfg.SymbolRulesFor),
			filter:   execution.New(e.db, cfg.GlobalLimits, tier.MaxTradesPerDay, ofCheck, e.logger),
			exposure: exposure.NewTracker(client, exposureInterval, e.logger),
			pnl: pnl.New(acct.ID, e.db, client, e.bus, cfg.LossStreakConfig,
				cfg.KillSwitchConfig.Timezone, equityInterval, e.logger),
			avoid: avoidwindow.New(acct.ID, acct.Symbols, client, e.guard, e.bus, e.logger),
		}
		rt.exits = exits.New(cfg.ExitConfig, acct.ID, client, e.plans, e.bus,
			func() bool { return kill.Status().Active }, e.logger)
		e.accounts = append(e.accounts, rt)
	}
	return nil
}

// buildDispatchers groups accounts by risk tier. The guardrail verdict is
// tier-scoped, so each tier gets its own dispatcher and its own check.
func (e *Engine) buildDispatchers() {
	byTier := make(map[string][]*dispatch.Account)
	for _, rt := range e.accounts {
		byTier[rt.cfg.RiskTier] = append(byTier[rt.cfg.RiskTier], &dispatch.Account{
			Cfg:      rt.cfg,
			Client:   rt.client,
			Kill:     rt.kill,
			Risk:     rt.riskMgr,
			Filter:   rt.filter,
			PnL:      rt.pnl,
			History:  e.db,
			Exposure: rt.exposure,
			Plans:    e.plans,
		})
	}
	for tier, accounts := range byTier {
		e.dispatchers[tier] = dispatch.New(accounts, e.cfg.SymbolRulesFor,
			e.decisionLog, e.bus, e.cfg.ExitConfig, e.logger)
	}
}

// Start brings the system up leaf first: storage, market data, per-account
// loops, then the decision ticks and the HTTP surface.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	e.startedAt = time.Now()

	if err := e.db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	for _, rt := range e.accounts {
		for _, symbol := range rt.cfg.Symbols {
			if _, err := rt.client.LoadSymbolInfo(ctx, symbol); err != nil {
				e.logger.Warn("symbol info unavailable at boot",
					"account", rt.cfg.ID, "symbol", symbol, "error", err)
			}
		}
	}

	marketdata.Backfill(ctx, e.marketClient, e.store, e.symbols,
		e.cfg.EngineConfig.HistoricalBackfillDays, e.logger)
	e.feed.Start(ctx)
	e.orderFlow.Start(ctx)

	for _, rt := range e.accounts {
		rt.exposure.Start(ctx)
		rt.pnl.Start(ctx)
		rt.exits.Start(ctx)
		rt.avoid.Start(ctx)
	}

	for _, symbol := range e.symbols {
		e.wg.Add(1)
		go e.runSymbol(ctx, symbol)
	}

	if err := e.server.Start(); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	e.logger.Info("engine started",
		"accounts", len(e.accounts), "symbols", len(e.symbols))
	return nil
}

// Stop tears down in reverse: stop accepting requests, stop the loops, then
// close storage.
func (e *Engine) Stop(ctx context.Context) {
	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Warn("api shutdown", "error", err)
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.planCache.Close()
	e.db.Close()
	e.logger.Info("engine stopped")
}

func (e *Engine) runSymbol(ctx context.Context, symbol string) {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.EngineConfig.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.tick(ctx, symbol, now)
		}
	}
}

// tick runs one decision pass for one symbol: evaluate the strategy once,
// then fan the signal out per tier with that tier's guardrail verdict.
func (e *Engine) tick(ctx context.Context, symbol string, now time.Time) {
	quote, err := e.marketClient.GetPrice(ctx, symbol)
	if err != nil {
		e.logger.Debug("tick skipped, no quote", "symbol", symbol, "error", err)
		e.refreshKillSwitches(ctx, symbol, now)
		return
	}

	ev := e.strategy.Evaluate(symbol, quote.Bid, quote.Ask, now)
	if ev.Signal == nil {
		e.recordStrategySkip(ctx, symbol, ev, now)
		e.refreshKillSwitches(ctx, symbol, now)
		return
	}

	sig := ev.Signal
	e.bus.PublishSignal(sig.Symbol, sig.Direction, sig.OrderKind,
		sig.Entry, sig.SL, sig.TP, sig.Reason)

	for tier, disp := range e.dispatchers {
		verdict := e.guard.Check(ctx, tier)
		disp.Dispatch(ctx, sig, verdict, now)
	}
}

// refreshKillSwitches keeps breach detection and auto-resume running on
// ticks that produce no signal, so the exit engine sees an activation on
// its next pass even when no setup is in flight.
func (e *Engine) refreshKillSwitches(ctx context.Context, symbol string, now time.Time) {
	for _, disp := range e.dispatchers {
		disp.RefreshKillSwitches(ctx, symbol, now)
	}
}

// recordStrategySkip writes one symbol-level row for a rejected evaluation.
// Account-scoped skips are recorded by the dispatcher instead.
func (e *Engine) recordStrategySkip(ctx context.Context, symbol string, ev smc.Evaluation, now time.Time) {
	if ev.Reject == smc.RejectInsufficientHistory {
		// Constant during warmup; a row per tick per symbol is noise.
		return
	}
	e.decisionLog.Record(ctx, &database.TradeDecision{
		Time:          now,
		Symbol:        symbol,
		Strategy:      "smc",
		Decision:      "skip",
		FilterReasons: []string{ev.Reject},
		StrategyError: ev.Err,
	})
}

// Status implements api.CoreAPI.
func (e *Engine) Status() map[string]interface{} {
	accounts := make([]map[string]interface{}, 0, len(e.accounts))
	for _, rt := range e.accounts {
		status := rt.kill.Status()
		acct := map[string]interface{}{
			"id":                 rt.cfg.ID,
			"risk_tier":          rt.cfg.RiskTier,
			"symbols":            rt.cfg.Symbols,
			"kill_switch_active": status.Active,
		}
		if snap := rt.exposure.Current(); snap != nil {
			acct["open_trades"] = snap.TotalOpenTrades
			acct["estimated_risk"] = snap.TotalEstimatedRisk
			acct["exposure_stale"] = snap.Stale
		}
		accounts = append(accounts, acct)
	}

	warm := make(map[string]int, len(e.symbols))
	for _, symbol := range e.symbols {
		warm[symbol] = e.store.Count(symbol)
	}
	return map[string]interface{}{
		"started_at":     e.startedAt.UTC(),
		"uptime_sec":     int(time.Since(e.startedAt).Seconds()),
		"symbols":        e.symbols,
		"candles_loaded": warm,
		"accounts":       accounts,
	}
}

// KillSwitchStatus implements api.CoreAPI.
func (e *Engine) KillSwitchStatus() map[string]interface{} {
	out := make(map[string]interface{}, len(e.accounts))
	for _, rt := range e.accounts {
		status := rt.kill.Status()
		entry := map[string]interface{}{
			"active":  status.Active,
			"reasons": status.Reasons,
		}
		if !status.ActivatedAt.IsZero() {
			entry["activated_at"] = status.ActivatedAt.UTC()
		}
		out[rt.cfg.ID] = entry
	}
	return out
}

// ResetKillSwitch implements api.CoreAPI.
func (e *Engine) ResetKillSwitch(ctx context.Context, accountID string) error {
	for _, rt := range e.accounts {
		if rt.cfg.ID == accountID {
			rt.kill.Reset(ctx)
			return nil
		}
	}
	return fmt.Errorf("unknown account %q", accountID)
}

// ExposureSnapshot implements api.CoreAPI.
func (e *Engine) ExposureSnapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(e.accounts))
	for _, rt := range e.accounts {
		snap := rt.exposure.Current()
		if snap == nil {
			out[rt.cfg.ID] = map[string]interface{}{"available": false}
			continue
		}
		symbols := make(map[string]interface{}, len(snap.Symbols))
		for symbol, exp := range snap.Symbols {
			symbols[symbol] = map[string]interface{}{
				"open_trades":    exp.TotalCount,
				"buy_trades":     exp.BuyCount,
				"sell_trades":    exp.SellCount,
				"total_volume":   exp.TotalVolume,
				"estimated_risk": exp.EstimatedRisk,
			}
		}
		out[rt.cfg.ID] = map[string]interface{}{
			"available":            true,
			"stale":                snap.Stale,
			"updated_at":           snap.UpdatedAt.UTC(),
			"total_open_trades":    snap.TotalOpenTrades,
			"total_estimated_risk": snap.TotalEstimatedRisk,
			"symbols":              symbols,
		}
	}
	return out
}

// PerformanceReport implements api.CoreAPI. Period is "daily" or "weekly",
// bounded by the account's trading-day calendar.
func (e *Engine) PerformanceReport(ctx context.Context, accountID, period string) (interface{}, error) {
	var rt *accountRuntime
	for _, a := range e.accounts {
		if a.cfg.ID == accountID {
			rt = a
			break
		}
	}
	if rt == nil {
		return nil, fmt.Errorf("unknown account %q", accountID)
	}

	now := time.Now()
	var from time.Time
	switch period {
	case "daily":
		from = rt.pnl.DayStart(now)
	case "weekly":
		from = rt.pnl.WeekStart(now)
	default:
		return nil, fmt.Errorf("period must be daily or weekly, got %q", period)
	}
	return e.reporter.Build(ctx, accountID, period, from, now)
}

// RecentDecisions implements api.CoreAPI.
func (e *Engine) RecentDecisions(ctx context.Context, accountID string, limit int) (interface{}, error) {
	return e.db.RecentDecisions(ctx, accountID, limit)
}

func unionSymbols(accounts []config.AccountConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, acct := range accounts {
		for _, symbol := range acct.Symbols {
			if !seen[symbol] {
				seen[symbol] = true
				out = append(out, symbol)
			}
		}
	}
	return out
}
