// Package selection discovers cointegrated pairs inside a symbol universe.
package selection

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/evdnx/gopairs/coint"
	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/history"
	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/types"
)

type Options struct {
	Bars           int
	BarSize        time.Duration
	MinBars        int
	MaxPValue      float64
	MinCorrelation float64
	MinVolatility  float64
	Top            int
	// Until is the cut-off for the history query.
	Until time.Time
	// Fetchers bounds concurrent history requests; defaults to 4.
	Fetchers int
}

// OptionsFromConfig maps the selection section onto Options.
func OptionsFromConfig(c config.Selection, until time.Time) Options {
	return Options{
		Bars:           c.Bars,
		BarSize:        c.BarSize,
		MinBars:        50,
		MaxPValue:      c.MaxPValue,
		MinCorrelation: c.MinCorrelation,
		MinVolatility:  c.MinVolatility,
		Top:            c.Top,
		Until:          until,
	}
}

// Candidate is a pair that passed every filter.
type Candidate struct {
	Pair        types.Pair
	PValue      float64
	Correlation float64
	// Volatility is the sum of both legs' price standard deviations.
	Volatility float64
}

// Score ranks candidates; higher is better.
func (c Candidate) Score() float64 { return c.Correlation * c.Volatility }

// Select tests every symbol combination and returns the best opts.Top pairs.
// Symbols whose history cannot be loaded are skipped.
func Select(ctx context.Context, p history.Provider, symbols []string, opts Options, l logger.Logger) ([]Candidate, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if len(symbols) < 2 {
		l.Info("selection_skipped", logger.String("reason", "not enough symbols"))
		return nil, nil
	}
	workers := opts.Fetchers
	if workers <= 0 {
		workers = 4
	}

	closes := make([][]float64, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			cs, err := p.History(gctx, sym, opts.Bars, opts.BarSize, opts.Until)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.Warn("selection_history_error", logger.String("symbol", sym), logger.Err(err))
				return nil
			}
			closes[i] = history.Closes(cs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Candidate
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			c, ok := evaluate(closes[i], closes[j], opts)
			if !ok {
				continue
			}
			c.Pair = types.Pair{A: symbols[i], B: symbols[j]}
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		l.Info("selection_no_pairs", logger.Int("symbols", len(symbols)))
		return nil, nil
	}

	sort.SliceStable(out, func(a, b int) bool {
		sa, sb := out[a].Score(), out[b].Score()
		if sa != sb {
			return sa > sb
		}
		return out[a].PValue < out[b].PValue
	})
	if opts.Top > 0 && len(out) > opts.Top {
		out = out[:opts.Top]
	}
	return out, nil
}

func evaluate(a, b []float64, opts Options) (Candidate, bool) {
	if len(a) != len(b) || len(a) <= opts.MinBars {
		return Candidate{}, false
	}
	res, err := coint.EngleGranger(a, [][]float64{b})
	if err != nil {
		return Candidate{}, false
	}
	c := Candidate{
		PValue:      res.PValue,
		Correlation: stat.Correlation(a, b, nil),
		Volatility:  stat.StdDev(a, nil) + stat.StdDev(b, nil),
	}
	if c.PValue < opts.MaxPValue && c.Correlation > opts.MinCorrelation && c.Volatility > opts.MinVolatility {
		return c, true
	}
	return Candidate{}, false
}

// Pairs extracts the pair of every candidate.
func Pairs(cs []Candidate) []types.Pair {
	out := make([]types.Pair, len(cs))
	for i, c := range cs {
		out[i] = c.Pair
	}
	return out
}
