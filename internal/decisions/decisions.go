package decisions

import (
	"context"
	"time"

	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/logging"
	"smc-trading-core/internal/marketdata"
)

// Store is the decision-log persistence surface.
type Store interface {
	InsertDecision(ctx context.Context, d *database.TradeDecision) error
	TradesSince(ctx context.Context, accountID string, since time.Time) ([]database.LiveTrade, error)
	SkippedSignalsSince(ctx context.Context, since time.Time) ([]database.TradeDecision, error)
	DecisionCountsSince(ctx context.Context, since time.Time) (traded, skipped int, skipReasons map[string]int, err error)
}

// CandleSource provides later price action for false-negative replay.
type CandleSource interface {
	RecentCandles(symbol string, tf marketdata.Timeframe, limit int) []marketdata.Candle
}

// Log is the append-only record of every decision tick.
type Log struct {
	store  Store
	bus    *events.EventBus
	logger *logging.Logger
}

// NewLog creates the decision log.
func NewLog(store Store, bus *events.EventBus, logger *logging.Logger) *Log {
	return &Log{store: store, bus: bus, logger: logger.WithComponent("decision_log")}
}

// Record persists one decision and publishes it. A persistence failure is
// logged but never blocks the pipeline.
func (l *Log) Record(ctx context.Context, d *database.TradeDecision) {
	if d.Time.IsZero() {
		d.Time = time.Now().UTC()
	}
	if err := l.store.InsertDecision(ctx, d); err != nil {
		l.logger.Error("failed to persist decision", "symbol", d.Symbol, "error", err)
	}
	if l.bus != nil {
		reasons := d.FilterReasons
		if d.RiskReason != "" {
			reasons = append([]string{d.RiskReason}, reasons...)
		}
		l.bus.PublishDecision(d.AccountID, d.Symbol, d.Decision, reasons)
	}
}

// Report is the per-period performance aggregate.
type Report struct {
	Period         string         `json:"period"`
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	SetupsFound    int            `json:"setups_found"`
	SetupsTraded   int            `json:"setups_traded"`
	SetupsSkipped  int            `json:"setups_skipped"`
	SkipReasons    map[string]int `json:"skip_reasons"`
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	BreakEvens     int            `json:"break_evens"`
	WinRate        float64        `json:"win_rate"`
	ProfitFactor   float64        `json:"profit_factor"`
	AvgR           float64        `json:"avg_r"`
	NetProfit      float64        `json:"net_profit"`
	FalseNegatives int            `json:"false_negatives"`
}

// Reporter builds performance reports from the decision log and the realized
// trade history.
type Reporter struct {
	store   Store
	candles CandleSource
	logger  *logging.Logger
}

// NewReporter creates the reporter. candles may be nil; false-negative replay
// is then skipped.
func NewReporter(store Store, candles CandleSource, logger *logging.Logger) *Reporter {
	return &Reporter{store: store, candles: candles, logger: logger.WithComponent("performance")}
}

// Build aggregates one reporting period for one account.
func (r *Reporter) Build(ctx context.Context, accountID, period string, from, to time.Time) (*Report, error) {
	traded, skipped, skipReasons, err := r.store.DecisionCountsSince(ctx, from)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Period:        period,
		From:          from,
		To:            to,
		SetupsFound:   traded + skipped,
		SetupsTraded:  traded,
		SetupsSkipped: skipped,
		SkipReasons:   skipReasons,
	}

	trades, err := r.store.TradesSince(ctx, accountID, from)
	if err != nil {
		return nil, err
	}

	var grossWin, grossLoss float64
	for _, t := range trades {
		report.NetProfit += t.ProfitNet
		switch {
		case t.ProfitNet > 0:
			report.Wins++
			grossWin += t.ProfitNet
		case t.ProfitNet < 0:
			report.Losses++
			grossLoss += -t.ProfitNet
		default:
			report.BreakEvens++
		}
	}
	if decided := report.Wins + report.Losses; decided > 0 {
		report.WinRate = float64(report.Wins) / float64(decided) * 100
	}
	if grossLoss > 0 {
		report.ProfitFactor = grossWin / grossLoss
		// Average loss stands in for the R unit; initial risk is not part
		// of the realized trade row.
		avgLoss := grossLoss / float64(report.Losses)
		if len(trades) > 0 {
			report.AvgR = report.NetProfit / float64(len(trades)) / avgLoss
		}
	}

	report.FalseNegatives = r.countFalseNegatives(ctx, from)
	return report, nil
}

// countFalseNegatives replays skipped signals against later price action and
// counts those whose planned TP would have been hit before the planned SL.
func (r *Reporter) countFalseNegatives(ctx context.Context, from time.Time) int {
	if r.candles == nil {
		return 0
	}
	skips, err := r.store.SkippedSignalsSince(ctx, from)
	if err != nil {
		r.logger.Error("failed to load skipped signals", "error", err)
		return 0
	}

	count := 0
	for _, d := range skips {
		sig := parseSignal(d.Signal)
		if sig == nil {
			continue
		}
		bars := r.candles.RecentCandles(d.Symbol, marketdata.TFM1, marketdata.DefaultStoreCapacity)
		if wouldHaveWon(sig, d.Time, bars) {
			count++
		}
	}
	return count
}

type plannedSignal struct {
	direction string
	entry     float64
	sl        float64
	tp        float64
}

func parseSignal(raw map[string]any) *plannedSignal {
	if raw == nil {
		return nil
	}
	direction, _ := raw["Direction"].(string)
	entry, _ := raw["Entry"].(float64)
	sl, _ := raw["SL"].(float64)
	tp, _ := raw["TP"].(float64)
	if direction == "" || entry == 0 || sl == 0 || tp == 0 {
		return nil
	}
	return &plannedSignal{direction: direction, entry: entry, sl: sl, tp: tp}
}

// wouldHaveWon walks bars after the decision. A bar touching both levels
// counts as a loss; intra-bar ordering is unknowable from OHLC.
func wouldHaveWon(sig *plannedSignal, after time.Time, bars []marketdata.Candle) bool {
	for _, bar := range bars {
		if !bar.StartTime.After(after) {
			continue
		}
		if sig.direction == "BUY" {
			if bar.Low <= sig.sl {
				return false
			}
			if bar.High >= sig.tp {
				return true
			}
		} else {
			if bar.High >= sig.sl {
				return false
			}
			if bar.Low <= sig.tp {
				return true
			}
		}
	}
	return false
}
