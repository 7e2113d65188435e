package marketdata

import (
	"context"
	"time"

	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/logging"
)

// Backfill loads N days of M1 history into the store for each symbol at
// boot. Errors are logged and skipped; partial data is acceptable and the
// feed fills the gap going forward.
func Backfill(ctx context.Context, client *broker.Client, store *CandleStore, symbols []string, days int, logger *logging.Logger) {
	log := logger.WithComponent("backfill")
	if days <= 0 {
		days = 90
	}

	for _, symbol := range symbols {
		bars, err := client.GetHistory(ctx, symbol, string(TFM1), days)
		if err != nil {
			log.Error("history request failed, continuing without backfill", "symbol", symbol, "error", err)
			continue
		}
		for _, bar := range bars {
			start := time.Unix(bar.Time, 0).UTC().Truncate(time.Minute)
			store.AddCandle(Candle{
				Symbol:    symbol,
				TF:        TFM1,
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				Volume:    bar.Volume,
				StartTime: start,
				EndTime:   start.Add(time.Minute),
			})
		}
		log.Info("backfill complete", "symbol", symbol, "bars", len(bars), "days", days)
	}
}
