package smc

import "time"

// Direction of a signal
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Trend bias values
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

// SwingKind marks a pivot as a high or a low
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a confirmed pivot. Index refers to the candle slice it was
// derived from; a pivot is confirmed only after pivotRight later bars.
type SwingPoint struct {
	Index int
	Kind  SwingKind
	Price float64
}

// BosEvent is a break of structure: a close beyond the most recent
// opposite-directional swing level.
type BosEvent struct {
	Index          int
	Direction      string // DirectionBuy (bullish) or DirectionSell (bearish)
	BrokenSwingIdx int
	Level          float64
}

// ChochEvent is a BOS against the prevailing trend that breaks the
// protected swing.
type ChochEvent struct {
	BosEvent
	FromTrend Trend
	ToTrend   Trend
}

// TrendBias is the per-timeframe structure readout.
type TrendBias struct {
	Trend       Trend
	LastSwingHi float64
	LastSwingLo float64
	LastBosDir  string
	// PDPosition is price location within [LastSwingLo, LastSwingHi],
	// 0 = at the low, 1 = at the high. Nil when the range has zero width.
	PDPosition *float64
}

// OrderBlock is the last opposite-colored candle before an impulsive move.
type OrderBlock struct {
	TF        string
	Side      string // DirectionBuy for bullish (demand), DirectionSell for bearish (supply)
	High      float64
	Low       float64
	Index     int
	CreatedAt time.Time
	Mitigated bool
}

// FVGGrade buckets fair value gaps by width
type FVGGrade string

const (
	FVGSmall  FVGGrade = "small"
	FVGMedium FVGGrade = "medium"
	FVGLarge  FVGGrade = "large"
)

// FairValueGap is a three-candle imbalance.
type FairValueGap struct {
	TF        string
	Direction string
	Upper     float64
	Lower     float64
	Index     int
	Grade     FVGGrade
}

// SignalMeta carries the confluence evidence attached to a signal.
type SignalMeta struct {
	HTFTrend        Trend    `json:"htf_trend"`
	PDPosition      *float64 `json:"pd_position,omitempty"`
	OrderBlockHigh  float64  `json:"order_block_high"`
	OrderBlockLow   float64  `json:"order_block_low"`
	FVGPresent      bool     `json:"fvg_present"`
	FVGGrade        string   `json:"fvg_grade,omitempty"`
	LiquiditySwept  bool     `json:"liquidity_swept"`
	SMTDivergence   bool     `json:"smt_divergence"`
	Choch           bool     `json:"choch"`
	Session         string   `json:"session"`
	ConfluenceScore int      `json:"confluence_score"`
}

// Signal is one candidate trade. Invariants: SL on the losing side of entry,
// TP on the winning side at the target R multiple.
type Signal struct {
	Symbol    string
	Direction string
	OrderKind string // "market", "limit" or "stop"
	Entry     float64
	SL        float64
	TP        float64
	Reason    string
	Meta      SignalMeta
	Time      time.Time
}

// RiskDistance returns |entry − sl|, the R unit.
func (s *Signal) RiskDistance() float64 {
	d := s.Entry - s.SL
	if d < 0 {
		return -d
	}
	return d
}
