package engine

import (
	"context"
	"testing"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/decisions"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/killswitch"
	"smc-trading-core/internal/logging"
	"smc-trading-core/internal/marketdata"
	"smc-trading-core/internal/pnl"
	"smc-trading-core/internal/smc"
)

type fakeDecisionStore struct {
	decisions []database.TradeDecision
}

func (f *fakeDecisionStore) InsertDecision(_ context.Context, d *database.TradeDecision) error {
	f.decisions = append(f.decisions, *d)
	return nil
}

func (f *fakeDecisionStore) TradesSince(_ context.Context, _ string, _ time.Time) ([]database.LiveTrade, error) {
	return nil, nil
}

func (f *fakeDecisionStore) SkippedSignalsSince(_ context.Context, _ time.Time) ([]database.TradeDecision, error) {
	return nil, nil
}

func (f *fakeDecisionStore) DecisionCountsSince(_ context.Context, _ time.Time) (int, int, map[string]int, error) {
	return 0, 0, map[string]int{}, nil
}

type fakePnLStore struct{}

func (fakePnLStore) InsertLiveTrade(_ context.Context, _ *database.LiveTrade) (bool, error) {
	return true, nil
}
func (fakePnLStore) InsertEquitySnapshot(_ context.Context, _ *database.EquitySnapshot) error {
	return nil
}
func (fakePnLStore) ClosedPnLSince(_ context.Context, _ string, _ time.Time) (float64, error) {
	return 0, nil
}
func (fakePnLStore) GetSymbolLossStreak(_ context.Context, _ string) (*database.SymbolLossStreak, error) {
	return nil, nil
}
func (fakePnLStore) UpsertSymbolLossStreak(_ context.Context, _ *database.SymbolLossStreak) error {
	return nil
}

type fakeSummary struct{}

func (fakeSummary) GetAccountSummary(_ context.Context) (*broker.AccountSummary, error) {
	return &broker.AccountSummary{Balance: 10000, Equity: 10000}, nil
}

type fakeTransitions struct{}

func (fakeTransitions) InsertKillSwitchEvent(_ context.Context, _ *database.KillSwitchEvent) error {
	return nil
}

func newTestRuntime(t *testing.T, id string) *accountRuntime {
	t.Helper()
	logger := logging.Default()
	bus := events.NewEventBus()
	ksCfg := config.KillSwitchConfig{Timezone: "America/New_York"}
	return &accountRuntime{
		cfg:  config.AccountConfig{ID: id, RiskTier: "low", Symbols: []string{"XAUUSD"}},
		kill: killswitch.New(ksCfg, id, fakeTransitions{}, bus, logger),
		pnl: pnl.New(id, fakePnLStore{}, fakeSummary{}, bus, config.LossStreakConfig{},
			"America/New_York", time.Minute, logger),
	}
}

func newTestEngine(t *testing.T, store *fakeDecisionStore) *Engine {
	t.Helper()
	logger := logging.Default()
	candleStore := marketdata.NewCandleStore(100)
	builder := marketdata.NewCandleBuilder(candleStore)
	md := marketdata.NewMarketData(candleStore, builder)
	return &Engine{
		cfg:         &config.Config{},
		logger:      logger,
		bus:         events.NewEventBus(),
		accounts:    []*accountRuntime{newTestRuntime(t, "acct-1"), newTestRuntime(t, "acct-2")},
		decisionLog: decisions.NewLog(store, events.NewEventBus(), logger),
		reporter:    decisions.NewReporter(store, md, logger),
	}
}

func TestUnionSymbolsDeduplicates(t *testing.T) {
	accounts := []config.AccountConfig{
		{ID: "a", Symbols: []string{"XAUUSD", "EURUSD"}},
		{ID: "b", Symbols: []string{"EURUSD", "GBPUSD"}},
	}
	got := unionSymbols(accounts)
	want := []string{"XAUUSD", "EURUSD", "GBPUSD"}
	if len(got) != len(want) {
		t.Fatalf("symbols = %v", got)
	}
	for i, symbol := range want {
		if got[i] != symbol {
			t.Errorf("symbols[%d] = %s, want %s", i, got[i], symbol)
		}
	}
}

func TestRecordStrategySkipWritesReason(t *testing.T) {
	store := &fakeDecisionStore{}
	e := newTestEngine(t, store)

	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	e.recordStrategySkip(context.Background(), "XAUUSD",
		smc.Evaluation{Reject: smc.RejectNoSweep}, now)

	if len(store.decisions) != 1 {
		t.Fatalf("expected one decision row, got %d", len(store.decisions))
	}
	d := store.decisions[0]
	if d.Decision != "skip" || d.Symbol != "XAUUSD" {
		t.Errorf("decision = %+v", d)
	}
	if len(d.FilterReasons) != 1 || d.FilterReasons[0] != smc.RejectNoSweep {
		t.Errorf("reasons = %v", d.FilterReasons)
	}
}

func TestRecordStrategySkipDropsWarmupNoise(t *testing.T) {
	store := &fakeDecisionStore{}
	e := newTestEngine(t, store)

	e.recordStrategySkip(context.Background(), "XAUUSD",
		smc.Evaluation{Reject: smc.RejectInsufficientHistory}, time.Now())

	if len(store.decisions) != 0 {
		t.Errorf("warmup rejections must not be recorded, got %d rows", len(store.decisions))
	}
}

func TestResetKillSwitchByAccount(t *testing.T) {
	e := newTestEngine(t, &fakeDecisionStore{})

	if err := e.ResetKillSwitch(context.Background(), "acct-2"); err != nil {
		t.Errorf("reset known account: %v", err)
	}
	if err := e.ResetKillSwitch(context.Background(), "acct-9"); err == nil {
		t.Error("expected error for unknown account")
	}
}

func TestKillSwitchStatusCoversAllAccounts(t *testing.T) {
	e := newTestEngine(t, &fakeDecisionStore{})

	status := e.KillSwitchStatus()
	for _, id := range []string{"acct-1", "acct-2"} {
		entry, ok := status[id].(map[string]interface{})
		if !ok {
			t.Fatalf("missing status for %s", id)
		}
		if entry["active"] != false {
			t.Errorf("%s should boot inactive", id)
		}
	}
}

func TestPerformanceReportValidatesPeriod(t *testing.T) {
	e := newTestEngine(t, &fakeDecisionStore{})

	if _, err := e.PerformanceReport(context.Background(), "acct-1", "monthly"); err == nil {
		t.Error("expected error for unsupported period")
	}
	if _, err := e.PerformanceReport(context.Background(), "acct-9", "daily"); err == nil {
		t.Error("expected error for unknown account")
	}
	if _, err := e.PerformanceReport(context.Background(), "acct-1", "daily"); err != nil {
		t.Errorf("daily report: %v", err)
	}
}
