package smc

import (
	"smc-trading-core/internal/marketdata"
)

// DetectFVGs scans for three-candle imbalances: bullish when
// candle[i-1].high < candle[i+1].low, bearish inverse. Gaps are graded by
// width relative to the middle candle's range.
func DetectFVGs(candles []marketdata.Candle, tf string) []FairValueGap {
	if len(candles) < 3 {
		return nil
	}

	var gaps []FairValueGap
	for i := 1; i < len(candles)-1; i++ {
		prev := candles[i-1]
		mid := candles[i]
		next := candles[i+1]

		if prev.High < next.Low {
			gaps = append(gaps, FairValueGap{
				TF:        tf,
				Direction: DirectionBuy,
				Upper:     next.Low,
				Lower:     prev.High,
				Index:     i,
				Grade:     gradeGap(next.Low-prev.High, mid),
			})
		}
		if prev.Low > next.High {
			gaps = append(gaps, FairValueGap{
				TF:        tf,
				Direction: DirectionSell,
				Upper:     prev.Low,
				Lower:     next.High,
				Index:     i,
				Grade:     gradeGap(prev.Low-next.High, mid),
			})
		}
	}
	return gaps
}

func gradeGap(width float64, mid marketdata.Candle) FVGGrade {
	candleRange := mid.High - mid.Low
	if candleRange <= 0 {
		return FVGSmall
	}
	ratio := width / candleRange
	switch {
	case ratio >= 0.5:
		return FVGLarge
	case ratio >= 0.25:
		return FVGMedium
	default:
		return FVGSmall
	}
}

// LatestAlignedFVG returns the most recent gap in the given direction, nil
// when none exists.
func LatestAlignedFVG(gaps []FairValueGap, direction string) *FairValueGap {
	for i := len(gaps) - 1; i >= 0; i-- {
		if gaps[i].Direction == direction {
			g := gaps[i]
			return &g
		}
	}
	return nil
}
