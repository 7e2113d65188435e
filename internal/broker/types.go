package broker

import "time"

// Direction of a trade
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Order kinds supported by the bridge
const (
	OrderKindMarket = "market"
	OrderKindLimit  = "limit"
	OrderKindStop   = "stop"
)

// Error codes the bridge returns that the core must recognize.
const (
	ErrCodeInvalidStops        = "INVALID_STOPS"         // retry owned by the bridge, core does not retry
	ErrCodeInvalidVolume       = "INVALID_VOLUME"        // fatal rejection for the attempt
	ErrCodeAutoTradingDisabled = "AUTO_TRADING_DISABLED" // transient, log and move on
)

// PriceQuote is the bridge response for GET /price/{symbol}
type PriceQuote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"` // unix seconds
}

// Mid returns the quote midpoint.
func (q PriceQuote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// HistoryBar is one bar from GET /history
type HistoryBar struct {
	Time   int64   `json:"time"` // unix seconds, bar start
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Position is one open position from GET /open-positions
type Position struct {
	Symbol    string   `json:"symbol"`
	Ticket    int64    `json:"ticket"`
	Direction string   `json:"direction"`
	Volume    float64  `json:"volume"`
	OpenPrice float64  `json:"open_price"`
	SL        *float64 `json:"sl,omitempty"`
	TP        *float64 `json:"tp,omitempty"`
	OpenTime  int64    `json:"open_time"`
	Profit    *float64 `json:"profit,omitempty"`
}

// OpenedAt returns the position open time as UTC.
func (p Position) OpenedAt() time.Time { return time.Unix(p.OpenTime, 0).UTC() }

// PendingOrder is one pending order from GET /pending-orders
type PendingOrder struct {
	Symbol     string   `json:"symbol"`
	Ticket     int64    `json:"ticket"`
	Direction  string   `json:"direction"`
	OrderKind  string   `json:"order_kind"`
	Volume     float64  `json:"volume"`
	EntryPrice float64  `json:"entry_price"`
	SL         *float64 `json:"sl,omitempty"`
	TP         *float64 `json:"tp,omitempty"`
}

type positionsResponse struct {
	Success   bool       `json:"success"`
	Positions []Position `json:"positions"`
	Error     string     `json:"error,omitempty"`
}

type pendingOrdersResponse struct {
	Success bool           `json:"success"`
	Orders  []PendingOrder `json:"orders"`
	Error   string         `json:"error,omitempty"`
}

// AccountSummary is the bridge response for GET /account-summary
type AccountSummary struct {
	Success     bool    `json:"success"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Currency    string  `json:"currency"`
}

// LargeOrder is one tape entry in the order-flow response
type LargeOrder struct {
	Volume float64 `json:"volume"`
	Side   string  `json:"side"` // "buy" or "sell"
	Price  float64 `json:"price"`
}

// OrderFlowSnapshot is the bridge response for GET /order-flow/{symbol}
type OrderFlowSnapshot struct {
	Symbol           string       `json:"symbol"`
	Timestamp        int64        `json:"timestamp"`
	BidVolume        float64      `json:"bid_volume"`
	AskVolume        float64      `json:"ask_volume"`
	Delta            float64      `json:"delta"`
	DeltaSign        int          `json:"delta_sign"`
	ImbalanceBuyPct  float64      `json:"imbalance_buy_pct"`
	ImbalanceSellPct float64      `json:"imbalance_sell_pct"`
	LargeOrders      []LargeOrder `json:"large_orders"`
}

// SymbolInfo is the per-symbol contract metadata used for lot sizing. The
// source of truth is the broker; sizing never guesses these values.
type SymbolInfo struct {
	Symbol         string  `json:"symbol"`
	PipSize        float64 `json:"pip_size"`          // price distance of one pip
	PipValuePerLot float64 `json:"pip_value_per_lot"` // account currency per pip per 1.0 lot
	VolumeStep     float64 `json:"volume_step"`
	VolumeMin      float64 `json:"volume_min"`
	VolumeMax      float64 `json:"volume_max"`
	ContractSize   float64 `json:"contract_size"`
}

// OpenTradeRequest is the body of POST /trades/open
type OpenTradeRequest struct {
	Symbol     string            `json:"symbol"`
	Direction  string            `json:"direction"`
	OrderKind  string            `json:"order_kind"`
	EntryPrice float64           `json:"entry_price"`
	LotSize    float64           `json:"lot_size"`
	StopLoss   float64           `json:"stop_loss"`
	TakeProfit float64           `json:"take_profit"`
	Strategy   string            `json:"strategy"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TradeResponse is the bridge response for the trade mutation endpoints
type TradeResponse struct {
	Success bool   `json:"success"`
	Ticket  int64  `json:"ticket,omitempty"`
	Error   string `json:"error,omitempty"`
	Context string `json:"context,omitempty"`
}

// TradeError carries a bridge error code so callers can branch on it.
type TradeError struct {
	Code    string
	Context string
}

func (e *TradeError) Error() string {
	if e.Context != "" {
		return e.Code + ": " + e.Context
	}
	return e.Code
}

// IsTransient reports whether the attempt may be repeated on a later tick.
func (e *TradeError) IsTransient() bool {
	return e.Code == ErrCodeAutoTradingDisabled
}
