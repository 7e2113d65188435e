package risk

import (
	"testing"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/guardrail"
)

func testManager(rules config.SymbolRules) *Manager {
	tiers := map[string]config.RiskTier{
		"low":  {MaxDailyLossPct: 2.0, MaxTradesPerDay: 3, DefaultRiskPct: 0.5},
		"high": {MaxDailyLossPct: 4.0, MaxTradesPerDay: 6, DefaultRiskPct: 1.0},
	}
	return NewManager(tiers, func(string) config.SymbolRules { return rules })
}

func baseInputs() Inputs {
	return Inputs{
		Symbol:         "XAUUSD",
		Tier:           "high",
		Equity:         10000,
		DayStartEquity: 10000,
		GuardrailMode:  guardrail.ModeNormal,
	}
}

func TestCanTakeNewTradeHappyPath(t *testing.T) {
	d := testManager(config.SymbolRules{}).CanTakeNewTrade(baseInputs())
	if !d.Allowed {
		t.Fatalf("expected allowed, got %q", d.Reason)
	}
	if d.AdjustedRiskPct != 1.0 {
		t.Errorf("high tier default risk = %v", d.AdjustedRiskPct)
	}
}

func TestCanTakeNewTradeDailyLossLimit(t *testing.T) {
	in := baseInputs()
	in.ClosedPnLToday = -400 // 4% of 10000, exactly at the cap
	d := testManager(config.SymbolRules{}).CanTakeNewTrade(in)
	if d.Allowed || d.Reason != ReasonDailyLossLimit {
		t.Errorf("expected %s, got allowed=%v reason=%q", ReasonDailyLossLimit, d.Allowed, d.Reason)
	}

	in.ClosedPnLToday = -399.99
	if d := testManager(config.SymbolRules{}).CanTakeNewTrade(in); !d.Allowed {
		t.Errorf("just under the cap must pass, got %q", d.Reason)
	}
}

func TestCanTakeNewTradeMaxTrades(t *testing.T) {
	in := baseInputs()
	in.TradesToday = 6
	d := testManager(config.SymbolRules{}).CanTakeNewTrade(in)
	if d.Allowed || d.Reason != ReasonMaxTrades {
		t.Errorf("expected %s, got allowed=%v reason=%q", ReasonMaxTrades, d.Allowed, d.Reason)
	}
}

func TestCanTakeNewTradeGuardrail(t *testing.T) {
	in := baseInputs()
	in.GuardrailMode = guardrail.ModeBlocked
	d := testManager(config.SymbolRules{}).CanTakeNewTrade(in)
	if d.Allowed || d.Reason != ReasonGuardrailBlocked {
		t.Errorf("expected %s, got allowed=%v reason=%q", ReasonGuardrailBlocked, d.Allowed, d.Reason)
	}

	in.GuardrailMode = guardrail.ModeReduced
	d = testManager(config.SymbolRules{}).CanTakeNewTrade(in)
	if !d.Allowed || d.AdjustedRiskPct != 0.5 {
		t.Errorf("reduced mode must halve the default: %+v", d)
	}
}

func TestRiskPctOverrideBeatsTierDefault(t *testing.T) {
	d := testManager(config.SymbolRules{RiskPctOverride: 0.25}).CanTakeNewTrade(baseInputs())
	if !d.Allowed || d.AdjustedRiskPct != 0.25 {
		t.Errorf("symbol override must win: %+v", d)
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func TestPositionSize(t *testing.T) {
	info := &broker.SymbolInfo{
		Symbol:         "XAUUSD",
		PipSize:        0.1,
		PipValuePerLot: 10,
		VolumeStep:     0.01,
		VolumeMin:      0.01,
		VolumeMax:      50,
	}

	// 1% of 10000 = 100 at risk; SL 2.0 price units = 20 pips;
	// 100 / (20 * 10) = 0.5 lots.
	if lot := PositionSize(info, 10000, 1.0, 2.0); !approx(lot, 0.5) {
		t.Errorf("lot = %v, want 0.5", lot)
	}

	// A tiny account clamps to the floor.
	if lot := PositionSize(info, 100, 0.5, 5.0); !approx(lot, 0.01) {
		t.Errorf("lot = %v, want floor 0.01", lot)
	}

	// A huge risk budget clamps to VolumeMax.
	if lot := PositionSize(info, 10_000_000, 2.0, 0.5); !approx(lot, 50) {
		t.Errorf("lot = %v, want cap 50", lot)
	}

	// Snapping rounds down to the step.
	step := &broker.SymbolInfo{PipSize: 0.0001, PipValuePerLot: 10, VolumeStep: 0.1, VolumeMin: 0.1, VolumeMax: 100}
	lot := PositionSize(step, 10000, 1.0, 0.0030) // 100 / (30*10) = 0.333...
	if !approx(lot, 0.3) {
		t.Errorf("lot = %v, want 0.3 after step snap", lot)
	}

	if PositionSize(nil, 10000, 1.0, 2.0) != 0 {
		t.Error("missing symbol info must size zero")
	}
}
