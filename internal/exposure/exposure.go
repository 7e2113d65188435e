package exposure

import (
	"context"
	"sync/atomic"
	"time"

	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/logging"
)

// defaultRiskPerLot is the estimate used when a position carries no SL.
const defaultRiskPerLot = 100.0

// PositionsFetcher is the broker capability the tracker needs.
type PositionsFetcher interface {
	GetOpenPositions(ctx context.Context) ([]broker.Position, error)
}

// SymbolExposure summarizes the open positions of one symbol.
type SymbolExposure struct {
	Symbol        string
	TotalCount    int
	BuyCount      int
	SellCount     int
	TotalVolume   float64
	EstimatedRisk float64
}

// DirectionalCount returns the open count in one direction.
func (e SymbolExposure) DirectionalCount(direction string) int {
	if direction == broker.DirectionBuy {
		return e.BuyCount
	}
	return e.SellCount
}

// Snapshot is one consistent view of account exposure. Readers get the
// whole struct by pointer swap; a snapshot is never mutated after publish.
type Snapshot struct {
	Symbols            map[string]SymbolExposure
	Positions          []broker.Position
	TotalOpenTrades    int
	TotalEstimatedRisk float64
	UpdatedAt          time.Time
	Stale              bool
}

// For returns the symbol exposure, zero-valued when the symbol is flat.
func (s *Snapshot) For(symbol string) SymbolExposure {
	if e, ok := s.Symbols[symbol]; ok {
		return e
	}
	return SymbolExposure{Symbol: symbol}
}

// Tracker polls open positions and republishes exposure snapshots. On a
// broker error the last known snapshot stays current, marked stale, so the
// pipeline keeps a conservative view instead of blocking.
type Tracker struct {
	client   PositionsFetcher
	interval time.Duration
	logger   *logging.Logger
	snap     atomic.Pointer[Snapshot]
}

// NewTracker creates an exposure tracker polling at the given interval.
func NewTracker(client PositionsFetcher, interval time.Duration, logger *logging.Logger) *Tracker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := &Tracker{
		client:   client,
		interval: interval,
		logger:   logger.WithComponent("exposure"),
	}
	t.snap.Store(&Snapshot{Symbols: map[string]SymbolExposure{}, Stale: true})
	return t
}

// Start runs the poll loop until ctx is canceled. The first refresh happens
// immediately so the pipeline has data before its first decision tick.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		t.Refresh(ctx)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.Refresh(ctx); err != nil {
					failures++
					if failures == 1 || failures%10 == 0 {
						t.logger.Warn("exposure refresh failed", "failures", failures, "error", err)
					}
					continue
				}
				failures = 0
			}
		}
	}()
}

// Refresh fetches positions once and swaps in a fresh snapshot. On error the
// previous snapshot is republished with Stale set.
func (t *Tracker) Refresh(ctx context.Context) error {
	positions, err := t.client.GetOpenPositions(ctx)
	if err != nil {
		prev := t.snap.Load()
		stale := *prev
		stale.Stale = true
		t.snap.Store(&stale)
		return err
	}
	t.snap.Store(build(positions))
	return nil
}

// Current returns the latest snapshot. Never nil.
func (t *Tracker) Current() *Snapshot {
	return t.snap.Load()
}

func build(positions []broker.Position) *Snapshot {
	snap := &Snapshot{
		Symbols:   make(map[string]SymbolExposure),
		Positions: positions,
		UpdatedAt: time.Now().UTC(),
	}
	for _, p := range positions {
		e := snap.Symbols[p.Symbol]
		e.Symbol = p.Symbol
		e.TotalCount++
		if p.Direction == broker.DirectionBuy {
			e.BuyCount++
		} else {
			e.SellCount++
		}
		e.TotalVolume += p.Volume
		risk := EstimateRisk(p)
		e.EstimatedRisk += risk
		snap.Symbols[p.Symbol] = e

		snap.TotalOpenTrades++
		snap.TotalEstimatedRisk += risk
	}
	return snap
}

// EstimateRisk approximates the currency at risk for one position:
// |open - sl| * volume when an SL exists, a flat per-lot estimate otherwise.
func EstimateRisk(p broker.Position) float64 {
	if p.SL == nil {
		return defaultRiskPerLot * p.Volume
	}
	d := p.OpenPrice - *p.SL
	if d < 0 {
		d = -d
	}
	return d * p.Volume
}
