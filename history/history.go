// Package history serves historical candles for warm-up and pair discovery.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/evdnx/gopairs/types"
)

// ErrUnknownInstrument is returned by providers that hold no data for a symbol.
var ErrUnknownInstrument = errors.New("history: unknown instrument")

// Provider returns up to count candles of instrument at or before until, in
// ascending time order, bucketed to barSize.
type Provider interface {
	History(ctx context.Context, instrument string, count int, barSize time.Duration, until time.Time) ([]types.Candle, error)
}

// Resample folds ascending candles into barSize buckets labelled by bucket
// start. barSize <= 0 returns the input unchanged.
func Resample(in []types.Candle, barSize time.Duration) []types.Candle {
	if barSize <= 0 || len(in) == 0 {
		return in
	}
	out := make([]types.Candle, 0, len(in))
	for _, c := range in {
		bucket := c.Time.Truncate(barSize)
		if n := len(out); n > 0 && out[n-1].Time.Equal(bucket) {
			last := &out[n-1]
			if c.High > last.High {
				last.High = c.High
			}
			if c.Low < last.Low {
				last.Low = c.Low
			}
			last.Close = c.Close
			last.Volume += c.Volume
			continue
		}
		c.Time = bucket
		out = append(out, c)
	}
	return out
}

// Closes extracts close prices.
func Closes(cs []types.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

func tail(cs []types.Candle, count int) []types.Candle {
	if count > 0 && len(cs) > count {
		return cs[len(cs)-count:]
	}
	return cs
}
