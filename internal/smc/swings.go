package smc

import (
	"smc-trading-core/internal/marketdata"
)

// DetectSwings finds confirmed pivots with a symmetric left/right window.
// A pivot high at i needs high[i] strictly above every high within left bars
// before and right bars after; lows symmetric. Pivots inside the last right
// bars are unconfirmed and never emitted. Output is ordered by index.
func DetectSwings(candles []marketdata.Candle, left, right int) []SwingPoint {
	if left < 1 {
		left = 1
	}
	if right < 1 {
		right = 1
	}
	n := len(candles)
	var swings []SwingPoint

	for i := left; i < n-right; i++ {
		isHigh := true
		isLow := true
		for j := i - left; j <= i+right; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			swings = append(swings, SwingPoint{Index: i, Kind: SwingHigh, Price: candles[i].High})
		}
		if isLow {
			swings = append(swings, SwingPoint{Index: i, Kind: SwingLow, Price: candles[i].Low})
		}
	}
	return swings
}

// lastSwingBefore returns the most recent swing of the given kind strictly
// before index, or nil.
func lastSwingBefore(swings []SwingPoint, kind SwingKind, index int) *SwingPoint {
	for i := len(swings) - 1; i >= 0; i-- {
		if swings[i].Kind == kind && swings[i].Index < index {
			s := swings[i]
			return &s
		}
	}
	return nil
}

// recentSwings returns up to n most recent swings of a kind, oldest first.
func recentSwings(swings []SwingPoint, kind SwingKind, n int) []SwingPoint {
	var matched []SwingPoint
	for _, s := range swings {
		if s.Kind == kind {
			matched = append(matched, s)
		}
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}
