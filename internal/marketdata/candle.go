package marketdata

import (
	"time"
)

// Timeframe represents a chart timeframe
type Timeframe string

const (
	TFM1  Timeframe = "M1"
	TFM5  Timeframe = "M5"
	TFM15 Timeframe = "M15"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
)

// Duration returns the wall-clock span of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TFM1:
		return time.Minute
	case TFM5:
		return 5 * time.Minute
	case TFM15:
		return 15 * time.Minute
	case TFH1:
		return time.Hour
	case TFH4:
		return 4 * time.Hour
	default:
		return time.Minute
	}
}

// Tick is a single quote observation from the price feed.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Mid returns the tick midpoint.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Candle is one OHLCV bar. M1 is authoritative; higher timeframes are
// derived by Aggregate. StartTime is aligned to the timeframe boundary (UTC).
type Candle struct {
	Symbol    string
	TF        Timeframe
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	StartTime time.Time
	EndTime   time.Time
}

// BucketStart truncates t to the timeframe boundary in UTC. H4 buckets run
// from 00:00 in steps of four hours.
func BucketStart(t time.Time, tf Timeframe) time.Time {
	u := t.UTC()
	switch tf {
	case TFM1:
		return u.Truncate(time.Minute)
	case TFM5:
		return u.Truncate(5 * time.Minute)
	case TFM15:
		return u.Truncate(15 * time.Minute)
	case TFH1:
		return u.Truncate(time.Hour)
	case TFH4:
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		return day.Add(time.Duration(u.Hour()/4*4) * time.Hour)
	default:
		return u.Truncate(time.Minute)
	}
}

// Aggregate rolls lower-timeframe candles up into tf buckets. Input must be
// ascending by StartTime; buckets with no source bars are skipped, never
// emitted as flat. The function is stateless against its input.
func Aggregate(candles []Candle, tf Timeframe) []Candle {
	if len(candles) == 0 {
		return nil
	}

	var out []Candle
	var cur *Candle
	for _, c := range candles {
		bucket := BucketStart(c.StartTime, tf)
		if cur == nil || !cur.StartTime.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &Candle{
				Symbol:    c.Symbol,
				TF:        tf,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
				StartTime: bucket,
				EndTime:   bucket.Add(tf.Duration()),
			}
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
