package smc

import (
	"testing"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/marketdata"
)

func bar(i int, o, h, l, c float64) marketdata.Candle {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return marketdata.Candle{
		Symbol:    "XAUUSD",
		TF:        marketdata.TFM1,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    10,
		StartTime: start,
		EndTime:   start.Add(time.Minute),
	}
}

func TestDetectSwingsConfirmation(t *testing.T) {
	// Peak at index 2, valley at index 5; indices 7-8 are inside the
	// right window and must never confirm.
	candles := []marketdata.Candle{
		bar(0, 10, 11, 9, 10.5),
		bar(1, 10.5, 12, 10, 11.5),
		bar(2, 11.5, 14, 11, 13),
		bar(3, 13, 13.5, 11.5, 12),
		bar(4, 12, 12.5, 10.5, 11),
		bar(5, 11, 11.5, 9.5, 10),
		bar(6, 10, 12.8, 10, 12.5),
		bar(7, 12.5, 15, 12, 14.5),
		bar(8, 14.5, 16, 14, 15.5),
	}

	swings := DetectSwings(candles, 2, 2)
	if len(swings) != 2 {
		t.Fatalf("expected 2 swings, got %d: %+v", len(swings), swings)
	}
	if swings[0].Kind != SwingHigh || swings[0].Index != 2 || swings[0].Price != 14 {
		t.Errorf("unexpected first swing: %+v", swings[0])
	}
	if swings[1].Kind != SwingLow || swings[1].Index != 5 || swings[1].Price != 9.5 {
		t.Errorf("unexpected second swing: %+v", swings[1])
	}
}

func TestDetectSwingsEqualHighsNotPivots(t *testing.T) {
	candles := []marketdata.Candle{
		bar(0, 10, 12, 9, 11),
		bar(1, 11, 12, 10, 11),
		bar(2, 11, 12, 10, 11),
		bar(3, 11, 11.5, 10, 10.5),
		bar(4, 10.5, 11, 9.8, 10),
	}
	swings := DetectSwings(candles, 1, 1)
	for _, s := range swings {
		if s.Kind == SwingHigh {
			t.Errorf("equal highs must not confirm a pivot high: %+v", s)
		}
	}
}

func TestDetectBOSStrictClose(t *testing.T) {
	// Swing high 14 at index 2. Index 6 wicks above but closes below:
	// no break. Index 7 closes above: break of structure.
	candles := []marketdata.Candle{
		bar(0, 10, 11, 9, 10.5),
		bar(1, 10.5, 12, 10, 11.5),
		bar(2, 11.5, 14, 11, 13),
		bar(3, 13, 13.5, 11.5, 12),
		bar(4, 12, 12.5, 10.5, 11),
		bar(5, 11, 12, 10.5, 11.8),
		bar(6, 11.8, 14.5, 11.5, 13.5),
		bar(7, 13.5, 14.8, 13, 14.4),
		bar(8, 14.4, 15, 14, 14.6),
		bar(9, 14.6, 15.2, 14.2, 14.8),
	}

	swings := DetectSwings(candles, 2, 2)
	events := DetectBOS(candles, swings, 0)
	if len(events) == 0 {
		t.Fatal("expected a bullish break of structure")
	}
	first := events[0]
	if first.Direction != DirectionBuy {
		t.Errorf("expected bullish break, got %s", first.Direction)
	}
	if first.Index != 7 {
		t.Errorf("break must come from the first close above 14, candle 7, got %d", first.Index)
	}
	if first.Level != 14 {
		t.Errorf("expected broken level 14, got %v", first.Level)
	}
}

func TestComputeTrendRequiresBothLegsAndBOS(t *testing.T) {
	swings := []SwingPoint{
		{Index: 2, Kind: SwingLow, Price: 9},
		{Index: 5, Kind: SwingHigh, Price: 12},
		{Index: 8, Kind: SwingLow, Price: 10},
		{Index: 11, Kind: SwingHigh, Price: 14},
	}
	bullish := []BosEvent{{Index: 12, Direction: DirectionBuy, BrokenSwingIdx: 5, Level: 12}}

	bias := ComputeTrend(swings, bullish, 13)
	if bias.Trend != TrendBullish {
		t.Errorf("expected bullish, got %s", bias.Trend)
	}

	// Same swings but the last BOS points down: structure is unresolved.
	bearish := []BosEvent{{Index: 12, Direction: DirectionSell, BrokenSwingIdx: 8, Level: 10}}
	if got := ComputeTrend(swings, bearish, 13).Trend; got != TrendSideways {
		t.Errorf("conflicting BOS must give sideways, got %s", got)
	}

	// Equal swing lows break the monotone requirement.
	flat := append([]SwingPoint{}, swings...)
	flat[2].Price = 9
	flat[0].Price = 9
	if got := ComputeTrend(flat, bullish, 13).Trend; got != TrendSideways {
		t.Errorf("equal lows must give sideways, got %s", got)
	}
}

func TestPDPositionZeroWidthRange(t *testing.T) {
	if pd := PDPosition(10, 10, 10); pd != nil {
		t.Errorf("zero-width range must yield nil, got %v", *pd)
	}
	pd := PDPosition(12, 10, 14)
	if pd == nil || *pd != 0.5 {
		t.Fatalf("expected 0.5, got %v", pd)
	}
	if pd := PDPosition(20, 10, 14); pd == nil || *pd != 1 {
		t.Errorf("expected clamp to 1, got %v", pd)
	}
	if pd := PDPosition(5, 10, 14); pd == nil || *pd != 0 {
		t.Errorf("expected clamp to 0, got %v", pd)
	}
}

func TestFindOrderBlockAndMitigation(t *testing.T) {
	// Bearish candle at index 3 precedes the impulse breaking 14 at index 5.
	candles := []marketdata.Candle{
		bar(0, 10, 11, 9, 10.5),
		bar(1, 10.5, 12, 10, 11.5),
		bar(2, 11.5, 14, 11, 13),
		bar(3, 13, 13.2, 12.4, 12.5), // last down candle, the demand block
		bar(4, 12.5, 13.8, 12.4, 13.6),
		bar(5, 13.6, 14.6, 13.4, 14.4),
	}
	bos := BosEvent{Index: 5, Direction: DirectionBuy, BrokenSwingIdx: 2, Level: 14}

	ob := FindOrderBlock(candles, bos, "M1")
	if ob == nil {
		t.Fatal("expected an order block")
	}
	if ob.Index != 3 || ob.Side != DirectionBuy {
		t.Fatalf("unexpected block: %+v", ob)
	}
	if ob.High != 13.2 || ob.Low != 12.4 {
		t.Errorf("block edges wrong: %+v", ob)
	}
	if ob.Mitigated {
		t.Error("no close below 12.4 yet, block must be fresh")
	}
	if ob.EntryEdge() != 13.2 || ob.FarEdge() != 12.4 {
		t.Errorf("edges: entry=%v far=%v", ob.EntryEdge(), ob.FarEdge())
	}

	// A later close through the far edge mitigates it.
	extended := append(candles, bar(6, 14.4, 14.5, 12.0, 12.1))
	ob2 := FindOrderBlock(extended, bos, "M1")
	if ob2 == nil || !ob2.Mitigated {
		t.Errorf("close below the low must mitigate the block: %+v", ob2)
	}
}

func TestDetectFVGs(t *testing.T) {
	candles := []marketdata.Candle{
		bar(0, 10, 10.5, 9.8, 10.4),
		bar(1, 10.4, 12, 10.4, 11.9), // wide displacement candle
		bar(2, 11.9, 12.5, 11.2, 12.3),
	}
	gaps := DetectFVGs(candles, "M1")
	if len(gaps) != 1 {
		t.Fatalf("expected one gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.Direction != DirectionBuy || g.Lower != 10.5 || g.Upper != 11.2 {
		t.Errorf("unexpected gap: %+v", g)
	}
	// width 0.7 vs mid range 1.6 is between 0.25 and 0.5.
	if g.Grade != FVGMedium {
		t.Errorf("expected medium grade, got %s", g.Grade)
	}

	if LatestAlignedFVG(gaps, DirectionSell) != nil {
		t.Error("no bearish gap exists")
	}
	if LatestAlignedFVG(gaps, DirectionBuy) == nil {
		t.Error("bullish gap must be found")
	}
}

func TestHasLiquiditySweep(t *testing.T) {
	// Swing low 9.5 at index 2; index 5 wicks below and closes back above,
	// then index 7 breaks structure upward.
	candles := []marketdata.Candle{
		bar(0, 10, 11, 9.8, 10.5),
		bar(1, 10.5, 11, 9.7, 10),
		bar(2, 10, 10.5, 9.5, 10.2),
		bar(3, 10.2, 11, 9.9, 10.8),
		bar(4, 10.8, 11.5, 10.4, 11.2),
		bar(5, 11.2, 11.3, 9.3, 10.1), // sweep of 9.5
		bar(6, 10.1, 11.6, 10, 11.4),
		bar(7, 11.4, 12.2, 11.2, 12),
	}
	swings := DetectSwings(candles, 2, 2)
	bos := BosEvent{Index: 7, Direction: DirectionBuy, BrokenSwingIdx: 4, Level: 11.5}
	if !HasLiquiditySweep(candles, swings, bos) {
		t.Error("wick below 9.5 with close back above must count as a sweep")
	}

	// Without the sweep candle there is nothing grabbed.
	clean := append(append([]marketdata.Candle{}, candles[:5]...), candles[6:]...)
	cleanSwings := DetectSwings(clean, 2, 2)
	cleanBos := BosEvent{Index: 6, Direction: DirectionBuy, BrokenSwingIdx: 4, Level: 11.5}
	if HasLiquiditySweep(clean, cleanSwings, cleanBos) {
		t.Error("no candle wicked below a prior low")
	}
}

func TestDetectSMTDivergence(t *testing.T) {
	primary := make([]marketdata.Candle, 40)
	correlated := make([]marketdata.Candle, 40)
	for i := range primary {
		primary[i] = bar(i, 10, 10.5, 10, 10.2)
		correlated[i] = bar(i, 50, 50.5, 50, 50.2)
	}
	// Primary prints a lower low in the recent window; correlated holds.
	primary[35].Low = 8.5
	primary[10].Low = 9.0
	correlated[10].Low = 48.0
	correlated[35].Low = 48.5

	if !DetectSMTDivergence(primary, correlated, DirectionBuy, 20) {
		t.Error("primary lower low with correlated holding must diverge")
	}
	// Both making lower lows confirms, no divergence.
	correlated[35].Low = 47.0
	if DetectSMTDivergence(primary, correlated, DirectionBuy, 20) {
		t.Error("confirmed low must not diverge")
	}
}

func TestActiveSession(t *testing.T) {
	sessions := []config.SessionWindow{
		{Name: "london", StartHour: 7, EndHour: 16},
		{Name: "sydney", StartHour: 21, EndHour: 6},
	}

	at := func(h int) time.Time { return time.Date(2026, 1, 5, h, 30, 0, 0, time.UTC) }

	if got := ActiveSession(sessions, at(8)); got != "london" {
		t.Errorf("08:30 UTC should be london, got %q", got)
	}
	if got := ActiveSession(sessions, at(16)); got != "" {
		t.Errorf("16:30 UTC is outside both windows, got %q", got)
	}
	if got := ActiveSession(sessions, at(23)); got != "sydney" {
		t.Errorf("23:30 UTC should be sydney (midnight wrap), got %q", got)
	}
	if got := ActiveSession(sessions, at(3)); got != "sydney" {
		t.Errorf("03:30 UTC should be sydney (midnight wrap), got %q", got)
	}
	if got := ActiveSession(nil, at(3)); got != "any" {
		t.Errorf("empty session list means always active, got %q", got)
	}
}
