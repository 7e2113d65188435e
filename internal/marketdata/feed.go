package marketdata

import (
	"context"
	"time"

	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/logging"
)

// PriceFeed polls the broker bridge for ticks per symbol and feeds the
// candle builder. One goroutine per symbol; errors are logged and the loop
// waits for the next cadence, never more than one in-flight poll per symbol.
type PriceFeed struct {
	client   *broker.Client
	builder  *CandleBuilder
	symbols  []string
	interval time.Duration
	logger   *logging.Logger

	onTick func(Tick) // optional observer, e.g. exit engine price updates
}

// NewPriceFeed creates a feed for the given symbols.
func NewPriceFeed(client *broker.Client, builder *CandleBuilder, symbols []string, interval time.Duration, logger *logging.Logger) *PriceFeed {
	if interval <= 0 {
		interval = time.Second
	}
	return &PriceFeed{
		client:   client,
		builder:  builder,
		symbols:  symbols,
		interval: interval,
		logger:   logger.WithComponent("price_feed"),
	}
}

// OnTick registers an observer invoked for every tick after aggregation.
func (f *PriceFeed) OnTick(fn func(Tick)) { f.onTick = fn }

// Run polls until ctx is canceled. Blocking; callers start it on its own
// goroutine per symbol via Start.
func (f *PriceFeed) Start(ctx context.Context) {
	for _, symbol := range f.symbols {
		go f.pollLoop(ctx, symbol)
	}
}

func (f *PriceFeed) pollLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			quote, err := f.client.GetPrice(ctx, symbol)
			if err != nil {
				failures++
				if failures == 1 || failures%10 == 0 {
					f.logger.Warn("price poll failed", "symbol", symbol, "failures", failures, "error", err)
				}
				continue
			}
			failures = 0

			tick := Tick{
				Symbol: symbol,
				Bid:    quote.Bid,
				Ask:    quote.Ask,
				Time:   time.Unix(quote.Time, 0).UTC(),
			}
			f.builder.OnTick(tick)
			if f.onTick != nil {
				f.onTick(tick)
			}
		}
	}
}
