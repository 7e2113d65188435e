package smc

import (
	"smc-trading-core/internal/marketdata"
)

// DetectBOS scans candles for closes beyond the most recent opposite swing
// level (strict close policy). Lookback bounds how far back the broken swing
// may sit; 0 means unbounded.
func DetectBOS(candles []marketdata.Candle, swings []SwingPoint, lookback int) []BosEvent {
	var events []BosEvent

	for i := range candles {
		if hi := lastSwingBefore(swings, SwingHigh, i); hi != nil {
			if lookback == 0 || i-hi.Index <= lookback {
				if candles[i].Close > hi.Price {
					if len(events) == 0 || events[len(events)-1].BrokenSwingIdx != hi.Index || events[len(events)-1].Direction != DirectionBuy {
						events = append(events, BosEvent{Index: i, Direction: DirectionBuy, BrokenSwingIdx: hi.Index, Level: hi.Price})
					}
				}
			}
		}
		if lo := lastSwingBefore(swings, SwingLow, i); lo != nil {
			if lookback == 0 || i-lo.Index <= lookback {
				if candles[i].Close < lo.Price {
					if len(events) == 0 || events[len(events)-1].BrokenSwingIdx != lo.Index || events[len(events)-1].Direction != DirectionSell {
						events = append(events, BosEvent{Index: i, Direction: DirectionSell, BrokenSwingIdx: lo.Index, Level: lo.Price})
					}
				}
			}
		}
	}
	return events
}

// ComputeTrend derives the trend bias from the swing stream and the last
// BOS. Bullish needs at least two strictly increasing swing highs AND lows
// with the last BOS bullish; bearish symmetric; anything else is sideways.
func ComputeTrend(swings []SwingPoint, bos []BosEvent, price float64) TrendBias {
	bias := TrendBias{Trend: TrendSideways}

	highs := recentSwings(swings, SwingHigh, 2)
	lows := recentSwings(swings, SwingLow, 2)
	if len(highs) > 0 {
		bias.LastSwingHi = highs[len(highs)-1].Price
	}
	if len(lows) > 0 {
		bias.LastSwingLo = lows[len(lows)-1].Price
	}
	if len(bos) > 0 {
		bias.LastBosDir = bos[len(bos)-1].Direction
	}
	bias.PDPosition = PDPosition(price, bias.LastSwingLo, bias.LastSwingHi)

	if len(highs) < 2 || len(lows) < 2 || len(bos) == 0 {
		return bias
	}

	higherHighs := highs[1].Price > highs[0].Price
	higherLows := lows[1].Price > lows[0].Price
	lowerHighs := highs[1].Price < highs[0].Price
	lowerLows := lows[1].Price < lows[0].Price

	switch {
	case higherHighs && higherLows && bias.LastBosDir == DirectionBuy:
		bias.Trend = TrendBullish
	case lowerHighs && lowerLows && bias.LastBosDir == DirectionSell:
		bias.Trend = TrendBearish
	}
	return bias
}

// PDPosition maps price into the [low, high] reference range, clamped to
// [0,1]. Returns nil for a zero-width range; PD gates skip in that case.
func PDPosition(price, low, high float64) *float64 {
	if high <= low {
		return nil
	}
	pd := (price - low) / (high - low)
	if pd < 0 {
		pd = 0
	}
	if pd > 1 {
		pd = 1
	}
	return &pd
}

// DetectChoch finds the BOS events that oppose the trend at their candle and
// break the protected swing: the last higher low in a bullish trend, the
// last lower high in a bearish trend.
func DetectChoch(candles []marketdata.Candle, swings []SwingPoint, bos []BosEvent) []ChochEvent {
	var events []ChochEvent

	for _, b := range bos {
		// Trend as it stood at the BOS candle: recompute from swings and
		// BOS events strictly before it.
		priorSwings := swingsBefore(swings, b.Index)
		priorBos := bosBefore(bos, b.Index)
		trend := ComputeTrend(priorSwings, priorBos, candles[b.Index].Close).Trend

		switch {
		case trend == TrendBullish && b.Direction == DirectionSell:
			if protected := lastSwingBefore(priorSwings, SwingLow, b.Index); protected != nil && b.Level <= protected.Price {
				events = append(events, ChochEvent{BosEvent: b, FromTrend: TrendBullish, ToTrend: TrendBearish})
			}
		case trend == TrendBearish && b.Direction == DirectionBuy:
			if protected := lastSwingBefore(priorSwings, SwingHigh, b.Index); protected != nil && b.Level >= protected.Price {
				events = append(events, ChochEvent{BosEvent: b, FromTrend: TrendBearish, ToTrend: TrendBullish})
			}
		}
	}
	return events
}

func swingsBefore(swings []SwingPoint, index int) []SwingPoint {
	var out []SwingPoint
	for _, s := range swings {
		if s.Index < index {
			out = append(out, s)
		}
	}
	return out
}

func bosBefore(bos []BosEvent, index int) []BosEvent {
	var out []BosEvent
	for _, b := range bos {
		if b.Index < index {
			out = append(out, b)
		}
	}
	return out
}
