package marketdata

import (
	"testing"
	"time"
)

func m1(symbol string, start time.Time, o, h, l, c float64) Candle {
	return Candle{
		Symbol: symbol, TF: TFM1,
		Open: o, High: h, Low: l, Close: c, Volume: 1,
		StartTime: start, EndTime: start.Add(time.Minute),
	}
}

func TestBucketStartAlignsToUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 10:07 New York is 14:07 UTC; the H4 bucket is 12:00 UTC.
	local := time.Date(2026, 8, 24, 10, 7, 30, 0, ny)

	if got := BucketStart(local, TFM15); !got.Equal(time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("M15 bucket = %v", got)
	}
	if got := BucketStart(local, TFH4); !got.Equal(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("H4 bucket = %v", got)
	}
}

func TestAggregateRollsUpOHLCV(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	var src []Candle
	// Five M1 bars inside one M5 bucket.
	src = append(src, m1("XAUUSD", base, 100, 102, 99, 101))
	src = append(src, m1("XAUUSD", base.Add(1*time.Minute), 101, 105, 100, 104))
	src = append(src, m1("XAUUSD", base.Add(2*time.Minute), 104, 104, 98, 99))
	src = append(src, m1("XAUUSD", base.Add(3*time.Minute), 99, 103, 99, 102))
	src = append(src, m1("XAUUSD", base.Add(4*time.Minute), 102, 103, 101, 103))

	out := Aggregate(src, TFM5)
	if len(out) != 1 {
		t.Fatalf("expected one M5 bar, got %d", len(out))
	}
	bar := out[0]
	if bar.Open != 100 || bar.High != 105 || bar.Low != 98 || bar.Close != 103 {
		t.Errorf("bar = %+v", bar)
	}
	if bar.Volume != 5 {
		t.Errorf("volume = %v", bar.Volume)
	}
	if !bar.StartTime.Equal(base) || !bar.EndTime.Equal(base.Add(5*time.Minute)) {
		t.Errorf("bounds = %v .. %v", bar.StartTime, bar.EndTime)
	}
}

func TestAggregateSkipsEmptyBuckets(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	src := []Candle{
		m1("XAUUSD", base, 100, 101, 99, 100),
		// 9:05..9:10 has no bars; the next bar lands two buckets later.
		m1("XAUUSD", base.Add(10*time.Minute), 100, 101, 99, 100),
	}
	out := Aggregate(src, TFM5)
	if len(out) != 2 {
		t.Fatalf("expected two M5 bars, got %d", len(out))
	}
	if !out[1].StartTime.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("second bucket = %v", out[1].StartTime)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	var src []Candle
	for i := 0; i < 30; i++ {
		price := 100 + float64(i%7)
		src = append(src, m1("EURUSD", base.Add(time.Duration(i)*time.Minute),
			price, price+1, price-1, price))
	}

	first := Aggregate(src, TFM15)
	second := Aggregate(src, TFM15)
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("bar %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestBuilderFinalizesOnMinuteRollover(t *testing.T) {
	store := NewCandleStore(100)
	b := NewCandleBuilder(store)
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	b.OnTick(Tick{Symbol: "XAUUSD", Bid: 2600.0, Ask: 2600.0, Time: base})
	b.OnTick(Tick{Symbol: "XAUUSD", Bid: 2602.0, Ask: 2602.0, Time: base.Add(20 * time.Second)})
	b.OnTick(Tick{Symbol: "XAUUSD", Bid: 2599.0, Ask: 2599.0, Time: base.Add(40 * time.Second)})
	if store.Count("XAUUSD") != 0 {
		t.Fatal("bar must not finalize inside its minute")
	}

	b.OnTick(Tick{Symbol: "XAUUSD", Bid: 2601.0, Ask: 2601.0, Time: base.Add(61 * time.Second)})
	bars := store.Recent("XAUUSD", 0)
	if len(bars) != 1 {
		t.Fatalf("expected one finalized bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Open != 2600 || bar.High != 2602 || bar.Low != 2599 || bar.Close != 2599 {
		t.Errorf("bar = %+v", bar)
	}
	if bar.Volume != 3 {
		t.Errorf("volume = %v, want tick count 3", bar.Volume)
	}

	cur, ok := b.Current("XAUUSD")
	if !ok || cur.Open != 2601 {
		t.Errorf("forming bar = %+v ok = %v", cur, ok)
	}
}

func TestStoreEvictsOldestOnOverflow(t *testing.T) {
	store := NewCandleStore(3)
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.AddCandle(m1("XAUUSD", base.Add(time.Duration(i)*time.Minute), 1, 1, 1, 1))
	}
	bars := store.Recent("XAUUSD", 0)
	if len(bars) != 3 {
		t.Fatalf("len = %d", len(bars))
	}
	if !bars[0].StartTime.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("oldest kept = %v", bars[0].StartTime)
	}
}

func TestStoreReplacesDuplicateMinute(t *testing.T) {
	store := NewCandleStore(10)
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	store.AddCandle(m1("XAUUSD", base, 1, 1, 1, 1))
	store.AddCandle(m1("XAUUSD", base, 2, 2, 2, 2))

	bars := store.Recent("XAUUSD", 0)
	if len(bars) != 1 || bars[0].Close != 2 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestRecentCandlesExcludesFormingBar(t *testing.T) {
	store := NewCandleStore(100)
	builder := NewCandleBuilder(store)
	md := NewMarketData(store, builder)
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	store.AddCandle(m1("XAUUSD", base, 100, 101, 99, 100))
	builder.OnTick(Tick{Symbol: "XAUUSD", Bid: 105, Ask: 105, Time: base.Add(time.Minute)})

	closed := md.RecentCandles("XAUUSD", TFM1, 10)
	if len(closed) != 1 {
		t.Fatalf("closed bars = %d", len(closed))
	}
	withForming := md.RecentCandlesWithForming("XAUUSD", TFM1, 10)
	if len(withForming) != 2 || withForming[1].Open != 105 {
		t.Errorf("with forming = %+v", withForming)
	}
}

func TestRecentCandlesAggregatesToLimit(t *testing.T) {
	store := NewCandleStore(1000)
	md := NewMarketData(store, nil)
	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		store.AddCandle(m1("XAUUSD", base.Add(time.Duration(i)*time.Minute), 1, 2, 0.5, 1.5))
	}

	bars := md.RecentCandles("XAUUSD", TFM15, 4)
	if len(bars) != 4 {
		t.Fatalf("len = %d", len(bars))
	}
	if !bars[3].StartTime.Equal(base.Add(105 * time.Minute)) {
		t.Errorf("last bucket = %v", bars[3].StartTime)
	}
	for _, bar := range bars {
		if bar.TF != TFM15 || bar.Volume != 15 {
			t.Errorf("bar = %+v", bar)
		}
	}
}
