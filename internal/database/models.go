package database

import "time"

// TradeDecision is one row of the append-only decision log: every tick
// evaluation for every account, trade or skip, with the full reason vector.
type TradeDecision struct {
	ID                int64
	Time              time.Time
	AccountID         string
	Symbol            string
	Strategy          string
	Decision          string // "trade" or "skip"
	GuardrailMode     string
	GuardrailReason   string
	RiskReason        string
	FilterReasons     []string
	KillSwitchActive  bool
	KillSwitchReasons []string
	Signal            map[string]any
	TradeRequest      map[string]any
	ExecutionResult   map[string]any
	StrategyError     string
}

// OrderEvent is a normalized broker lifecycle event from the webhook.
type OrderEvent struct {
	ID         int64
	Time       time.Time
	Source     string
	EventType  string
	Ticket     int64
	Symbol     string
	Direction  string
	Volume     float64
	EntryPrice float64
	ExitPrice  float64
	SL         *float64
	TP         *float64
	Commission float64
	Swap       float64
	Profit     float64
	Reason     string
	Comment    string
	Payload    map[string]any
}

// LiveTrade is one realized trade. profit_net = profit_gross - |commission|
// - |swap|. Unique on (ticket, exit_time) so webhook retries are idempotent.
type LiveTrade struct {
	ID          int64
	Ticket      int64
	AccountID   string
	Symbol      string
	Direction   string
	Volume      float64
	EntryPrice  float64
	ExitPrice   float64
	EntryTime   time.Time
	ExitTime    time.Time
	Commission  float64
	Swap        float64
	ProfitGross float64
	ProfitNet   float64
	Strategy    string
	ExitReason  string
}

// EquitySnapshot is one periodic account equity observation.
type EquitySnapshot struct {
	ID             int64
	Time           time.Time
	AccountID      string
	Balance        float64
	Equity         float64
	ClosedPnLToday float64
	ClosedPnLWeek  float64
	DrawdownAbs    float64
	DrawdownPct    float64
}

// KillSwitchEvent is one persisted activation/deactivation transition.
type KillSwitchEvent struct {
	ID        int64
	Time      time.Time
	AccountID string
	Active    bool
	Reasons   []string
}

// ExitPlan is the persisted per-ticket exit state. Absence of a row means
// static SL/TP only.
type ExitPlan struct {
	Ticket        int64      `json:"ticket"`
	AccountID     string     `json:"account_id"`
	Symbol        string     `json:"symbol"`
	Direction     string     `json:"direction"`
	EntryPrice    float64    `json:"entry_price"`
	InitialSL     float64    `json:"initial_sl"`
	TakeProfit    *float64   `json:"take_profit,omitempty"`
	BreakEvenDone bool       `json:"break_even_done"`
	PartialDone   bool       `json:"partial_done"`
	CurrentSL     *float64   `json:"current_sl,omitempty"`
	LastTrailAt   *time.Time `json:"last_trail_at,omitempty"`
	OpenedAt      time.Time  `json:"opened_at"`
}

// SymbolLossStreak tracks consecutive and daily losses per symbol for the
// loss-streak execution filter.
type SymbolLossStreak struct {
	Symbol            string
	ConsecutiveLosses int
	DailyLosses       int
	Day               time.Time
	PausedUntil       *time.Time
}

// NewsWindowRow is one avoid window from the daily_news_windows table.
type NewsWindowRow struct {
	ID         int64
	Day        time.Time
	StartTime  time.Time
	EndTime    time.Time
	Currency   string
	Impact     string
	EventName  string
	RiskScore  int
	IsCritical bool
}
