package smc

import (
	"smc-trading-core/internal/marketdata"
)

// DetectSMTDivergence compares recent structural extremes of a symbol and
// its configured correlated pair. Divergence is present when one asset makes
// a new extreme over the window and the other does not confirm it.
//
// For a bullish setup the signal symbol printing a lower low while the
// correlated asset holds above its prior low is the non-confirmation that
// adds confluence; bearish symmetric on highs.
func DetectSMTDivergence(primary, correlated []marketdata.Candle, direction string, window int) bool {
	if window <= 0 {
		window = 20
	}
	if len(primary) < 2*window || len(correlated) < 2*window {
		return false
	}

	if direction == DirectionBuy {
		pNew := lowestLow(primary[len(primary)-window:])
		pOld := lowestLow(primary[len(primary)-2*window : len(primary)-window])
		cNew := lowestLow(correlated[len(correlated)-window:])
		cOld := lowestLow(correlated[len(correlated)-2*window : len(correlated)-window])
		return pNew < pOld && cNew >= cOld
	}

	pNew := highestHigh(primary[len(primary)-window:])
	pOld := highestHigh(primary[len(primary)-2*window : len(primary)-window])
	cNew := highestHigh(correlated[len(correlated)-window:])
	cOld := highestHigh(correlated[len(correlated)-2*window : len(correlated)-window])
	return pNew > pOld && cNew <= cOld
}

func lowestLow(candles []marketdata.Candle) float64 {
	low := candles[0].Low
	for _, c := range candles[1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}

func highestHigh(candles []marketdata.Candle) float64 {
	high := candles[0].High
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}
