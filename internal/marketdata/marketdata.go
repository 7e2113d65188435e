package marketdata

// MarketData serves multi-timeframe candle slices on demand. Higher
// timeframes are derived from the authoritative M1 ring on every call;
// aggregation is stateless so concurrent readers are independent.
type MarketData struct {
	store   *CandleStore
	builder *CandleBuilder
}

// NewMarketData creates the aggregator over a store and builder.
func NewMarketData(store *CandleStore, builder *CandleBuilder) *MarketData {
	return &MarketData{store: store, builder: builder}
}

// RecentCandles returns up to limit most-recent candles for a timeframe,
// ascending, excluding the in-progress bar. Strategy call sites use this.
func (m *MarketData) RecentCandles(symbol string, tf Timeframe, limit int) []Candle {
	return m.recent(symbol, tf, limit, false)
}

// RecentCandlesWithForming is RecentCandles including the still-forming M1
// bar. Order-flow style consumers may want the live bar.
func (m *MarketData) RecentCandlesWithForming(symbol string, tf Timeframe, limit int) []Candle {
	return m.recent(symbol, tf, limit, true)
}

func (m *MarketData) recent(symbol string, tf Timeframe, limit int, includeForming bool) []Candle {
	// Over-fetch M1 so the aggregated tail still covers limit buckets.
	need := limit
	if tf != TFM1 {
		need = limit * int(tf.Duration().Minutes())
	}
	m1 := m.store.Recent(symbol, need)
	if includeForming && m.builder != nil {
		if cur, ok := m.builder.Current(symbol); ok {
			if len(m1) == 0 || cur.StartTime.After(m1[len(m1)-1].StartTime) {
				m1 = append(m1, cur)
			}
		}
	}
	if len(m1) == 0 {
		return nil
	}

	var candles []Candle
	if tf == TFM1 {
		candles = m1
	} else {
		candles = Aggregate(m1, tf)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles
}

// Warm reports whether the symbol has at least minBars of M1 history.
func (m *MarketData) Warm(symbol string, minBars int) bool {
	return m.store.Count(symbol) >= minBars
}
