package marketdata

import (
	"sync"
)

// CandleBuilder aggregates ticks into M1 bars, one in-progress bar per
// symbol. Finalized bars go to the CandleStore. Volume is the tick count.
type CandleBuilder struct {
	mu      sync.Mutex
	store   *CandleStore
	current map[string]*Candle
}

// NewCandleBuilder creates a builder writing into store.
func NewCandleBuilder(store *CandleStore) *CandleBuilder {
	return &CandleBuilder{
		store:   store,
		current: make(map[string]*Candle),
	}
}

// OnTick folds a tick into the symbol's current minute bar, finalizing the
// previous bar when the minute bucket rolls over. Ticks for a symbol must
// arrive in order; ticks across symbols are independent.
func (b *CandleBuilder) OnTick(tick Tick) {
	bucket := BucketStart(tick.Time, TFM1)
	mid := tick.Mid()

	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.current[tick.Symbol]
	if !ok || !cur.StartTime.Equal(bucket) {
		if ok {
			b.store.AddCandle(*cur)
		}
		b.current[tick.Symbol] = &Candle{
			Symbol:    tick.Symbol,
			TF:        TFM1,
			Open:      mid,
			High:      mid,
			Low:       mid,
			Close:     mid,
			Volume:    1,
			StartTime: bucket,
			EndTime:   bucket.Add(TFM1.Duration()),
		}
		return
	}

	if mid > cur.High {
		cur.High = mid
	}
	if mid < cur.Low {
		cur.Low = mid
	}
	cur.Close = mid
	cur.Volume++
}

// Current returns a copy of the in-progress bar for a symbol, if any.
func (b *CandleBuilder) Current(symbol string) (Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.current[symbol]; ok {
		return *cur, true
	}
	return Candle{}, false
}
