package smc

import (
	"fmt"
	"runtime/debug"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/marketdata"
)

// Rejection reasons surfaced on the decision record.
const (
	RejectInsufficientHistory = "insufficient_history"
	RejectHTFSideways         = "htf_sideways"
	RejectPDZone              = "pd_zone_invalid"
	RejectITFMisaligned       = "itf_misaligned"
	RejectNoLTFBos            = "no_ltf_bos"
	RejectNoSweep             = "no_liquidity_sweep"
	RejectNoOrderBlock        = "no_order_block"
	RejectOBMitigated         = "order_block_mitigated"
	RejectNoImbalance         = "no_fvg_or_volume_imbalance"
	RejectSMTMissing          = "smt_divergence_missing"
	RejectSessionClosed       = "session_closed"
	RejectRiskTooSmall        = "risk_distance_too_small"
	RejectStrategyError       = "strategy_error"
)

// Evaluation is the outcome of one strategy pass: a signal, or a structured
// rejection. Err carries detail only for strategy_error rejections; the
// caller logs it and treats the evaluation as a skip, never a fatal.
type Evaluation struct {
	Signal *Signal
	Reject string
	Err    string
}

// Strategy runs the SMC decision rule over a read-only MarketData handle.
// It never mutates shared state; every evaluation works on candle copies.
type Strategy struct {
	cfg   config.StrategyConfig
	rules func(symbol string) config.SymbolRules
	md    *marketdata.MarketData
}

// NewStrategy creates a strategy bound to a market data handle and a symbol
// rule provider.
func NewStrategy(cfg config.StrategyConfig, rules func(string) config.SymbolRules, md *marketdata.MarketData) *Strategy {
	return &Strategy{cfg: cfg, rules: rules, md: md}
}

// Evaluate produces at most one candidate signal for the symbol, or a
// rejection reason. Panics inside the pipeline are captured as
// strategy_error evaluations.
func (s *Strategy) Evaluate(symbol string, bid, ask float64, now time.Time) (ev Evaluation) {
	defer func() {
		if r := recover(); r != nil {
			ev = Evaluation{
				Reject: RejectStrategyError,
				Err:    fmt.Sprintf("panic evaluating %s: %v\n%s", symbol, r, debug.Stack()),
			}
		}
	}()

	htfTF := marketdata.TFH4
	if s.cfg.HTFTimeframe == "H1" {
		htfTF = marketdata.TFH1
	}

	htf := s.md.RecentCandles(symbol, htfTF, 200)
	itf := s.md.RecentCandles(symbol, marketdata.TFM15, 150)
	ltf := s.md.RecentCandles(symbol, marketdata.TFM1, 120)
	if len(htf) < s.cfg.MinHTFCandles || len(itf) < s.cfg.MinITFCandles || len(ltf) < s.cfg.MinLTFCandles {
		return Evaluation{Reject: RejectInsufficientHistory}
	}

	rules := s.rules(symbol)
	mid := (bid + ask) / 2

	// Session gate first: a signal outside the window can never trade.
	session := ActiveSession(rules.Sessions, now)
	if session == "" {
		return Evaluation{Reject: RejectSessionClosed}
	}

	// HTF structure.
	htfSwings := DetectSwings(htf, s.cfg.PivotHTF, s.cfg.PivotHTF)
	htfBos := DetectBOS(htf, htfSwings, s.cfg.BOSLookback)
	htfBias := ComputeTrend(htfSwings, htfBos, mid)
	if htfBias.Trend == TrendSideways {
		return Evaluation{Reject: RejectHTFSideways}
	}

	direction := DirectionBuy
	if htfBias.Trend == TrendBearish {
		direction = DirectionSell
	}

	// PD gate: discount for buys, premium for sells. A zero-width range
	// yields a nil position and the gate is skipped.
	if htfBias.PDPosition != nil {
		pd := *htfBias.PDPosition
		if direction == DirectionBuy && pd > 0.5 {
			return Evaluation{Reject: RejectPDZone}
		}
		if direction == DirectionSell && pd < 0.5 {
			return Evaluation{Reject: RejectPDZone}
		}
	}

	// ITF alignment.
	itfSwings := DetectSwings(itf, s.cfg.PivotITF, s.cfg.PivotITF)
	itfBos := DetectBOS(itf, itfSwings, s.cfg.BOSLookback)
	itfBias := ComputeTrend(itfSwings, itfBos, mid)
	if itfBias.Trend != htfBias.Trend && itfBias.LastBosDir != direction {
		return Evaluation{Reject: RejectITFMisaligned}
	}

	// LTF confirmation: last BOS must point with the signal.
	ltfSwings := DetectSwings(ltf, s.cfg.PivotLTF, s.cfg.PivotLTF)
	ltfBos := DetectBOS(ltf, ltfSwings, s.cfg.BOSLookback)
	if len(ltfBos) == 0 || ltfBos[len(ltfBos)-1].Direction != direction {
		return Evaluation{Reject: RejectNoLTFBos}
	}
	confirm := ltfBos[len(ltfBos)-1]

	if !HasLiquiditySweep(ltf, ltfSwings, confirm) {
		return Evaluation{Reject: RejectNoSweep}
	}

	ob := FindOrderBlock(ltf, confirm, string(marketdata.TFM1))
	if ob == nil {
		return Evaluation{Reject: RejectNoOrderBlock}
	}
	if ob.Mitigated {
		return Evaluation{Reject: RejectOBMitigated}
	}

	// Imbalance: an aligned FVG or a volume surge on the impulse.
	gaps := DetectFVGs(ltf, string(marketdata.TFM1))
	fvg := LatestAlignedFVG(gaps, direction)
	if fvg == nil && !volumeImbalance(ltf) {
		return Evaluation{Reject: RejectNoImbalance}
	}

	// SMT divergence adds confluence; strictly required only by config.
	smt := false
	if pair, ok := s.cfg.SMTPairs[symbol]; ok && pair != "" {
		correlated := s.md.RecentCandles(pair, marketdata.TFM1, 120)
		smt = DetectSMTDivergence(ltf, correlated, direction, 20)
	}
	if s.cfg.RequireSMT && !smt {
		return Evaluation{Reject: RejectSMTMissing}
	}

	choch := false
	if chochs := DetectChoch(ltf, ltfSwings, ltfBos); len(chochs) > 0 {
		last := chochs[len(chochs)-1]
		choch = last.Direction == direction
	}

	entry, kind := selectEntry(direction, ob, bid, ask, rules.SLBufferPips)
	sl, tp := stopAndTarget(direction, entry, ob, rules.SLBufferPips, s.cfg.TargetRMultiple)

	risk := entry - sl
	if risk < 0 {
		risk = -risk
	}
	if rules.MinRiskDistance > 0 && risk < rules.MinRiskDistance {
		return Evaluation{Reject: RejectRiskTooSmall}
	}

	score := 0
	for _, hit := range []bool{true, true, fvg != nil, smt, choch} { // trend, sweep+ob always true here
		if hit {
			score++
		}
	}

	meta := SignalMeta{
		HTFTrend:        htfBias.Trend,
		PDPosition:      htfBias.PDPosition,
		OrderBlockHigh:  ob.High,
		OrderBlockLow:   ob.Low,
		FVGPresent:      fvg != nil,
		LiquiditySwept:  true,
		SMTDivergence:   smt,
		Choch:           choch,
		Session:         session,
		ConfluenceScore: score,
	}
	if fvg != nil {
		meta.FVGGrade = string(fvg.Grade)
	}

	return Evaluation{Signal: &Signal{
		Symbol:    symbol,
		Direction: direction,
		OrderKind: kind,
		Entry:     entry,
		SL:        sl,
		TP:        tp,
		Reason:    fmt.Sprintf("%s %s: ltf bos with sweep into unmitigated ob", htfBias.Trend, session),
		Meta:      meta,
		Time:      now,
	}}
}

// selectEntry picks the candidate entry and the order kind against the
// current touch: better than touch is a limit, beyond touch is a stop,
// at touch is a market order.
func selectEntry(direction string, ob *OrderBlock, bid, ask, buffer float64) (float64, string) {
	edge := ob.EntryEdge()

	if direction == DirectionBuy {
		// Price already retesting the block: take the touch.
		if ask <= edge+buffer && ask >= ob.Low {
			return ask, "market"
		}
		if edge < ask {
			return edge, "limit" // buy below the ask
		}
		if edge > ask {
			return edge, "stop" // buy above the ask
		}
		return ask, "market"
	}

	if bid >= edge-buffer && bid <= ob.High {
		return bid, "market"
	}
	if edge > bid {
		return edge, "limit" // sell above the bid
	}
	if edge < bid {
		return edge, "stop"
	}
	return bid, "market"
}

// stopAndTarget places the stop beyond the block's far edge with the symbol
// buffer and the target at the configured R multiple.
func stopAndTarget(direction string, entry float64, ob *OrderBlock, buffer, targetR float64) (sl, tp float64) {
	if targetR <= 0 {
		targetR = 2.0
	}
	if direction == DirectionBuy {
		sl = ob.FarEdge() - buffer
		tp = entry + targetR*(entry-sl)
		return sl, tp
	}
	sl = ob.FarEdge() + buffer
	tp = entry - targetR*(sl-entry)
	return sl, tp
}

// volumeImbalance reports a volume surge on the latest bar against the
// trailing average.
func volumeImbalance(candles []marketdata.Candle) bool {
	n := len(candles)
	if n < 21 {
		return false
	}
	var sum float64
	for _, c := range candles[n-21 : n-1] {
		sum += c.Volume
	}
	avg := sum / 20
	return avg > 0 && candles[n-1].Volume >= 1.5*avg
}
