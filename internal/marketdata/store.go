package marketdata

import (
	"sync"
)

// DefaultStoreCapacity bounds the per-symbol M1 ring.
const DefaultStoreCapacity = 10000

// CandleStore is the exclusive owner of per-symbol M1 rings. Writes append
// under a per-symbol lock; readers get a defensive copy of the tail.
type CandleStore struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

type ring struct {
	mu      sync.RWMutex
	candles []Candle
	max     int
}

// NewCandleStore creates a store with the given per-symbol capacity.
func NewCandleStore(capacity int) *CandleStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &CandleStore{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

func (s *CandleStore) ringFor(symbol string) *ring {
	s.mu.RLock()
	r, ok := s.rings[symbol]
	s.mu.RUnlock()
	if ok {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rings[symbol]; ok {
		return r
	}
	r = &ring{max: s.capacity}
	s.rings[symbol] = r
	return r
}

// AddCandle appends an M1 bar, dropping the oldest on overflow. When a bar
// for the same minute is already the most recent entry (backfill overlapping
// a live bar) the newer bar replaces it so the most-recent-time invariant
// holds.
func (s *CandleStore) AddCandle(c Candle) {
	r := s.ringFor(c.Symbol)
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.candles); n > 0 && r.candles[n-1].StartTime.Equal(c.StartTime) {
		r.candles[n-1] = c
		return
	}
	r.candles = append(r.candles, c)
	if len(r.candles) > r.max {
		r.candles = r.candles[len(r.candles)-r.max:]
	}
}

// Recent returns a copy of up to limit most-recent M1 bars, ascending.
func (s *CandleStore) Recent(symbol string, limit int) []Candle {
	r := s.ringFor(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.candles)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Candle, limit)
	copy(out, r.candles[n-limit:])
	return out
}

// Count returns the number of stored M1 bars for a symbol.
func (s *CandleStore) Count(symbol string) int {
	r := s.ringFor(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candles)
}
