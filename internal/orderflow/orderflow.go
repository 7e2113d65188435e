package orderflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/logging"
)

// ringSize bounds per-symbol snapshot history, one snapshot per poll.
const ringSize = 60

// Fetcher is the broker capability the service needs.
type Fetcher interface {
	GetOrderFlow(ctx context.Context, symbol string) (*broker.OrderFlowSnapshot, error)
}

// Metrics is the derived order-flow readout for one symbol.
type Metrics struct {
	Symbol          string
	Delta1s         float64
	Delta5s         float64
	Delta15s        float64
	Delta60s        float64
	CVD             float64
	BuyPressure     float64
	SellPressure    float64
	Imbalance       float64 // buy% - sell%, in [-100, 100]
	LargeBuyOrders  int
	LargeSellOrders int
	Absorption      bool
	AbsorptionSide  string // direction being absorbed, "" when none
	Exhaustion      bool
	UpdatedAt       time.Time
}

type symbolState struct {
	mu        sync.RWMutex
	snapshots []broker.OrderFlowSnapshot
	metrics   Metrics
	failures  int
}

// Service polls the bridge order-flow endpoint per symbol and derives delta
// windows, CVD and pressure flags. A 404 from the bridge disables the
// feature for that symbol without noise; filters then pass unconditionally.
type Service struct {
	client   Fetcher
	cfg      config.OrderFlowConfig
	symbols  []string
	logger   *logging.Logger
	interval time.Duration

	mu          sync.RWMutex
	state       map[string]*symbolState
	unavailable map[string]bool
}

// NewService creates the order-flow poller.
func NewService(client Fetcher, cfg config.OrderFlowConfig, symbols []string, logger *logging.Logger) *Service {
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		client:      client,
		cfg:         cfg,
		symbols:     symbols,
		logger:      logger.WithComponent("order_flow"),
		interval:    interval,
		state:       make(map[string]*symbolState),
		unavailable: make(map[string]bool),
	}
}

// Start launches one poll loop per symbol. No-op when disabled by config.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("order flow disabled by config")
		return
	}
	for _, symbol := range s.symbols {
		go s.pollLoop(ctx, symbol)
	}
}

func (s *Service) stateFor(symbol string) *symbolState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[symbol]
	if !ok {
		st = &symbolState{}
		s.state[symbol] = st
	}
	return st
}

func (s *Service) pollLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	st := s.stateFor(symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := s.client.GetOrderFlow(ctx, symbol)
			if err != nil {
				if errors.Is(err, broker.ErrOrderFlowUnavailable) {
					// Optional terminal feature; stay quiet and stop asking.
					s.mu.Lock()
					s.unavailable[symbol] = true
					s.mu.Unlock()
					return
				}
				st.mu.Lock()
				st.failures++
				n := st.failures
				st.mu.Unlock()
				if n == 1 || n%10 == 0 {
					s.logger.Warn("order flow poll failed", "symbol", symbol, "failures", n, "error", err)
				}
				continue
			}
			s.ingest(st, symbol, *snapshot)
		}
	}
}

// ingest appends a snapshot to the ring and recomputes the derived metrics
// under the symbol lock.
func (s *Service) ingest(st *symbolState, symbol string, snap broker.OrderFlowSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.failures = 0
	st.snapshots = append(st.snapshots, snap)
	if len(st.snapshots) > ringSize {
		st.snapshots = st.snapshots[len(st.snapshots)-ringSize:]
	}
	st.metrics = s.compute(symbol, st.snapshots)
}

func (s *Service) compute(symbol string, ring []broker.OrderFlowSnapshot) Metrics {
	latest := ring[len(ring)-1]
	m := Metrics{
		Symbol:       symbol,
		Delta1s:      latest.Delta,
		Delta5s:      windowSum(ring, 5),
		Delta15s:     windowSum(ring, 15),
		Delta60s:     windowSum(ring, 60),
		CVD:          windowSum(ring, ringSize),
		BuyPressure:  latest.ImbalanceBuyPct,
		SellPressure: latest.ImbalanceSellPct,
		Imbalance:    latest.ImbalanceBuyPct - latest.ImbalanceSellPct,
		UpdatedAt:    time.Unix(latest.Timestamp, 0).UTC(),
	}
	for _, o := range latest.LargeOrders {
		switch o.Side {
		case "buy":
			m.LargeBuyOrders++
		case "sell":
			m.LargeSellOrders++
		}
	}
	m.Absorption, m.AbsorptionSide = s.detectAbsorption(ring)
	m.Exhaustion = s.detectExhaustion(ring)
	return m
}

func windowSum(ring []broker.OrderFlowSnapshot, n int) float64 {
	if n > len(ring) {
		n = len(ring)
	}
	var sum float64
	for _, snap := range ring[len(ring)-n:] {
		sum += snap.Delta
	}
	return sum
}

// detectAbsorption flags sustained one-sided delta whose momentum is being
// eaten: the average delta over the lookback is strong in one direction while
// the latest delta has flipped against it. The side returned is the direction
// whose pressure is being absorbed.
func (s *Service) detectAbsorption(ring []broker.OrderFlowSnapshot) (bool, string) {
	lookback := s.cfg.AbsorptionLookback
	if lookback <= 0 {
		lookback = 5
	}
	if len(ring) < lookback+1 {
		return false, ""
	}
	window := ring[len(ring)-1-lookback : len(ring)-1]
	var avg float64
	for _, snap := range window {
		avg += snap.Delta
	}
	avg /= float64(lookback)

	latest := ring[len(ring)-1].Delta
	threshold := s.cfg.MinDeltaTrendConfirmation
	if threshold <= 0 {
		threshold = 50
	}
	if avg >= threshold && latest <= -threshold {
		return true, "BUY"
	}
	if avg <= -threshold && latest >= threshold {
		return true, "SELL"
	}
	return false, ""
}

// detectExhaustion flags a delta collapse after a spike: the window peak was
// a real spike and the latest delta retains less than (1 - threshold) of it.
func (s *Service) detectExhaustion(ring []broker.OrderFlowSnapshot) bool {
	if len(ring) < 3 {
		return false
	}
	window := ring
	if len(window) > 15 {
		window = window[len(window)-15:]
	}
	var peak float64
	for _, snap := range window[:len(window)-1] {
		if d := abs(snap.Delta); d > peak {
			peak = d
		}
	}
	spike := s.cfg.MinDeltaTrendConfirmation
	if spike <= 0 {
		spike = 50
	}
	if peak < spike {
		return false
	}
	frac := 1 - s.cfg.ExhaustionThreshold
	if frac < 0 {
		frac = 0
	}
	return abs(ring[len(ring)-1].Delta) <= peak*frac
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Snapshot returns the current metrics for a symbol. ok is false when the
// feature is off, the endpoint is absent, or no data has arrived yet.
func (s *Service) Snapshot(symbol string) (Metrics, bool) {
	if !s.cfg.Enabled {
		return Metrics{}, false
	}
	s.mu.RLock()
	if s.unavailable[symbol] {
		s.mu.RUnlock()
		return Metrics{}, false
	}
	st, exists := s.state[symbol]
	s.mu.RUnlock()
	if !exists {
		return Metrics{}, false
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	if len(st.snapshots) == 0 {
		return Metrics{}, false
	}
	return st.metrics, true
}

// Check applies the order-flow veto for a candidate signal. Without data the
// check passes; order flow only ever blocks, never generates.
func (s *Service) Check(symbol, direction string) (bool, string) {
	m, ok := s.Snapshot(symbol)
	if !ok {
		return true, ""
	}

	threshold := s.cfg.MinDeltaTrendConfirmation
	if threshold <= 0 {
		threshold = 50
	}

	if direction == "BUY" && m.Delta15s <= -threshold {
		return false, "order_flow_delta_opposes"
	}
	if direction == "SELL" && m.Delta15s >= threshold {
		return false, "order_flow_delta_opposes"
	}
	if m.Absorption && m.AbsorptionSide == direction {
		return false, "order_flow_absorption"
	}
	if opposingCluster(m, direction) {
		return false, "order_flow_large_opposing_orders"
	}
	if m.Exhaustion {
		return false, "order_flow_exhaustion"
	}
	return true, ""
}

// opposingCluster reports a dominant group of large orders on the other side
// of the tape.
func opposingCluster(m Metrics, direction string) bool {
	if direction == "BUY" {
		return m.LargeSellOrders >= 3 && m.LargeSellOrders > m.LargeBuyOrders
	}
	return m.LargeBuyOrders >= 3 && m.LargeBuyOrders > m.LargeSellOrders
}
