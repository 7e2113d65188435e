package smc

import (
	"smc-trading-core/internal/marketdata"
)

// HasLiquiditySweep reports whether price grabbed liquidity before the BOS:
// for a bullish break, some candle in the window before it must have wicked
// below a prior swing low and closed back above it; bearish symmetric.
func HasLiquiditySweep(candles []marketdata.Candle, swings []SwingPoint, bos BosEvent) bool {
	for i := bos.Index; i > 0; i-- {
		c := candles[i]
		if bos.Direction == DirectionBuy {
			prior := lastSwingBefore(swings, SwingLow, i)
			if prior == nil {
				continue
			}
			if c.Low < prior.Price && c.Close > prior.Price {
				return true
			}
		} else {
			prior := lastSwingBefore(swings, SwingHigh, i)
			if prior == nil {
				continue
			}
			if c.High > prior.Price && c.Close < prior.Price {
				return true
			}
		}
		// Only the stretch between the broken swing and the break counts.
		if i <= bos.BrokenSwingIdx {
			break
		}
	}
	return false
}
