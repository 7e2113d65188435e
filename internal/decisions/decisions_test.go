package decisions

import (
	"context"
	"math"
	"testing"
	"time"

	"smc-trading-core/internal/database"
	"smc-trading-core/internal/logging"
	"smc-trading-core/internal/marketdata"
)

type fakeStore struct {
	decisions   []database.TradeDecision
	trades      []database.LiveTrade
	skips       []database.TradeDecision
	traded      int
	skipped     int
	skipReasons map[string]int
}

func (f *fakeStore) InsertDecision(_ context.Context, d *database.TradeDecision) error {
	f.decisions = append(f.decisions, *d)
	return nil
}

func (f *fakeStore) TradesSince(_ context.Context, _ string, _ time.Time) ([]database.LiveTrade, error) {
	return f.trades, nil
}

func (f *fakeStore) SkippedSignalsSince(_ context.Context, _ time.Time) ([]database.TradeDecision, error) {
	return f.skips, nil
}

func (f *fakeStore) DecisionCountsSince(_ context.Context, _ time.Time) (int, int, map[string]int, error) {
	return f.traded, f.skipped, f.skipReasons, nil
}

type fakeCandles struct {
	bars []marketdata.Candle
}

func (f *fakeCandles) RecentCandles(_ string, _ marketdata.Timeframe, _ int) []marketdata.Candle {
	return f.bars
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecordStampsTime(t *testing.T) {
	store := &fakeStore{}
	log := NewLog(store, nil, logging.Default())

	log.Record(context.Background(), &database.TradeDecision{
		AccountID: "acct-1",
		Symbol:    "XAUUSD",
		Decision:  "skip",
	})
	if len(store.decisions) != 1 || store.decisions[0].Time.IsZero() {
		t.Errorf("decision must be persisted with a timestamp: %+v", store.decisions)
	}
}

func TestReportAggregatesOutcomes(t *testing.T) {
	store := &fakeStore{
		traded:      4,
		skipped:     6,
		skipReasons: map[string]int{"spread too wide": 2, "outside trading session": 4},
		trades: []database.LiveTrade{
			{ProfitNet: 100},
			{ProfitNet: 50},
			{ProfitNet: -50},
			{ProfitNet: 0},
		},
	}
	r := NewReporter(store, nil, logging.Default())

	from := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	report, err := r.Build(context.Background(), "acct-1", "daily", from, from.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if report.SetupsFound != 10 || report.SetupsTraded != 4 || report.SetupsSkipped != 6 {
		t.Errorf("setup counts: %+v", report)
	}
	if report.Wins != 2 || report.Losses != 1 || report.BreakEvens != 1 {
		t.Errorf("outcomes: wins=%d losses=%d be=%d", report.Wins, report.Losses, report.BreakEvens)
	}
	// 2 wins out of 3 decided trades.
	if !approx(report.WinRate, 200.0/3) {
		t.Errorf("win rate = %v", report.WinRate)
	}
	if !approx(report.ProfitFactor, 3) {
		t.Errorf("profit factor = %v", report.ProfitFactor)
	}
	if !approx(report.NetProfit, 100) {
		t.Errorf("net profit = %v", report.NetProfit)
	}
	// avg net per trade 25, R unit (avg loss) 50.
	if !approx(report.AvgR, 0.5) {
		t.Errorf("avg r = %v", report.AvgR)
	}
	if report.SkipReasons["outside trading session"] != 4 {
		t.Errorf("skip reasons: %v", report.SkipReasons)
	}
}

func TestFalseNegativeReplay(t *testing.T) {
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	skip := func(direction string, entry, sl, tp float64) database.TradeDecision {
		return database.TradeDecision{
			Time:     at,
			Symbol:   "XAUUSD",
			Decision: "skip",
			Signal:   map[string]any{"Direction": direction, "Entry": entry, "SL": sl, "TP": tp},
		}
	}
	bar := func(minute int, high, low float64) marketdata.Candle {
		return marketdata.Candle{
			Symbol:    "XAUUSD",
			TF:        marketdata.TFM1,
			High:      high,
			Low:       low,
			StartTime: at.Add(time.Duration(minute) * time.Minute),
		}
	}

	store := &fakeStore{skips: []database.TradeDecision{
		skip("BUY", 2600, 2598, 2604), // TP hit at bar 2 -> false negative
		skip("BUY", 2600, 2599, 2610), // SL hit first -> not counted
		skip("SELL", 2600, 2602, 2590), // neither level touched
	}}
	candles := &fakeCandles{bars: []marketdata.Candle{
		bar(1, 2601.0, 2599.5),
		bar(2, 2604.5, 2600.0), // highs 2604.5: hits first TP, lows at 2600
		bar(3, 2601.0, 2598.9), // low 2598.9 hits second signal's SL
	}}

	r := NewReporter(store, candles, logging.Default())
	report, err := r.Build(context.Background(), "acct-1", "daily", at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if report.FalseNegatives != 1 {
		t.Errorf("false negatives = %d, want 1", report.FalseNegatives)
	}
}
