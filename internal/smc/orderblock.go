package smc

import (
	"smc-trading-core/internal/marketdata"
)

// FindOrderBlock locates the order block for a BOS: the last opposite-color
// candle immediately preceding the impulse that produced the break. For a
// bullish BOS that is the last bearish candle before the move up; bearish
// symmetric. Returns nil when no opposite candle exists in the window.
func FindOrderBlock(candles []marketdata.Candle, bos BosEvent, tf string) *OrderBlock {
	wantBearish := bos.Direction == DirectionBuy

	for i := bos.Index - 1; i >= 0 && i >= bos.BrokenSwingIdx-1; i-- {
		c := candles[i]
		bearish := c.Close < c.Open
		if bearish != wantBearish {
			continue
		}
		side := DirectionBuy
		if !wantBearish {
			side = DirectionSell
		}
		ob := &OrderBlock{
			TF:        tf,
			Side:      side,
			High:      c.High,
			Low:       c.Low,
			Index:     i,
			CreatedAt: c.StartTime,
		}
		ob.Mitigated = obMitigated(candles, ob)
		return ob
	}
	return nil
}

// obMitigated reports whether a later close crossed the block's far edge:
// below the low for a bullish (demand) block, above the high for a bearish
// (supply) block.
func obMitigated(candles []marketdata.Candle, ob *OrderBlock) bool {
	for i := ob.Index + 1; i < len(candles); i++ {
		if ob.Side == DirectionBuy && candles[i].Close < ob.Low {
			return true
		}
		if ob.Side == DirectionSell && candles[i].Close > ob.High {
			return true
		}
	}
	return false
}

// EntryEdge returns the edge of the block a retracement entry rests on: the
// high of a demand block, the low of a supply block.
func (ob *OrderBlock) EntryEdge() float64 {
	if ob.Side == DirectionBuy {
		return ob.High
	}
	return ob.Low
}

// FarEdge returns the protective edge used for the structural stop.
func (ob *OrderBlock) FarEdge() float64 {
	if ob.Side == DirectionBuy {
		return ob.Low
	}
	return ob.High
}
