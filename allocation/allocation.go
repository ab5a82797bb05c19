// Package allocation turns a basket of active signals into hedged, bounded
// target weights using the cointegrating vector of their log returns.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/evdnx/gopairs/coint"
	"github.com/evdnx/gopairs/returns"
	"github.com/evdnx/gopairs/types"
)

// Outcome labels why a Result looks the way it does.
type Outcome string

const (
	Allocated           Outcome = "allocated"
	InsufficientSignals Outcome = "insufficient_signals"
	InsufficientData    Outcome = "insufficient_data"
	Degenerate          Outcome = "degenerate"
	NotSignificant      Outcome = "not_significant"
)

// ReturnProvider yields the return window of an instrument, most recent first.
type ReturnProvider interface {
	Returns(instrument string) []returns.Point
}

// ProviderFunc adapts a function to ReturnProvider.
type ProviderFunc func(instrument string) []returns.Point

func (f ProviderFunc) Returns(instrument string) []returns.Point { return f(instrument) }

type Options struct {
	MaxPositionSize float64
	PValueCutoff    float64
	// Fit defaults to coint.EngleGranger.
	Fit coint.Fitter
}

// Result maps every input instrument to a target weight in
// [-MaxPositionSize, MaxPositionSize].
type Result struct {
	Weights map[string]float64
	// Columns are the instruments that entered the regression, in order.
	Columns []string
	Vector  []float64
	PValue  float64
	Outcome Outcome
}

// IsZero reports whether every weight is zero.
func (r Result) IsZero() bool {
	for _, w := range r.Weights {
		if w != 0 {
			return false
		}
	}
	return true
}

// Allocate computes target weights for signals. It keeps no state; the only
// returned errors are failures of the regression routine itself.
func Allocate(signals []types.Signal, provider ReturnProvider, opts Options) (Result, error) {
	ordered := order(signals)
	res := Result{Weights: make(map[string]float64, len(ordered))}
	for _, s := range ordered {
		res.Weights[s.Instrument] = 0
	}
	if len(ordered) < 2 {
		res.Outcome = InsufficientSignals
		return res, nil
	}

	cols, matrix := align(ordered, provider)
	if len(cols) < 2 || len(matrix[0]) < len(cols)+2 {
		res.Outcome = InsufficientData
		return res, nil
	}

	fit := opts.Fit
	if fit == nil {
		fit = coint.EngleGranger
	}
	fr, err := fit(matrix[0], matrix[1:])
	if err != nil {
		if errors.Is(err, coint.ErrDegenerate) {
			res.Outcome = Degenerate
			return res, nil
		}
		return Result{}, fmt.Errorf("allocation: regression over %d series: %w", len(cols), err)
	}
	res.Columns = make([]string, len(cols))
	res.Vector = fr.Vector
	res.PValue = fr.PValue
	for i, c := range cols {
		res.Columns[i] = c.Instrument
	}
	if fr.PValue > opts.PValueCutoff || math.IsNaN(fr.PValue) {
		res.Outcome = NotSignificant
		return res, nil
	}
	if len(fr.Vector) != len(cols) {
		return Result{}, fmt.Errorf("allocation: vector has %d entries for %d columns", len(fr.Vector), len(cols))
	}

	var total float64
	for _, v := range fr.Vector {
		total += math.Abs(v)
	}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		res.Outcome = Degenerate
		return res, nil
	}
	for i, c := range cols {
		w := math.Abs(fr.Vector[i]) / total * float64(c.Direction)
		res.Weights[c.Instrument] = clamp(w, opts.MaxPositionSize)
	}
	res.Outcome = Allocated
	return res, nil
}

// order keeps one signal per instrument (the newest) and sorts by generation
// time, then instrument.
func order(signals []types.Signal) []types.Signal {
	latest := make(map[string]types.Signal, len(signals))
	for _, s := range signals {
		if s.Direction == types.Flat {
			continue
		}
		if prev, ok := latest[s.Instrument]; !ok || s.GeneratedAt.After(prev.GeneratedAt) {
			latest[s.Instrument] = s
		}
	}
	out := make([]types.Signal, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// align builds the return matrix as column vectors over the union of all
// timestamps (ascending). Missing cells take the column mean; columns without
// any finite value are dropped.
func align(signals []types.Signal, provider ReturnProvider) ([]types.Signal, [][]float64) {
	type column struct {
		sig    types.Signal
		values map[time.Time]float64
		mean   float64
	}
	var cols []column
	stamps := make(map[time.Time]struct{})
	for _, s := range signals {
		c := column{sig: s, values: make(map[time.Time]float64)}
		var sum float64
		for _, p := range provider.Returns(s.Instrument) {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				continue
			}
			if _, dup := c.values[p.Time]; dup {
				continue
			}
			c.values[p.Time] = p.Value
			sum += p.Value
		}
		if len(c.values) == 0 {
			continue
		}
		for ts := range c.values {
			stamps[ts] = struct{}{}
		}
		c.mean = sum / float64(len(c.values))
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return nil, nil
	}

	rows := make([]time.Time, 0, len(stamps))
	for ts := range stamps {
		rows = append(rows, ts)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Before(rows[j]) })

	kept := make([]types.Signal, len(cols))
	matrix := make([][]float64, len(cols))
	for j, c := range cols {
		kept[j] = c.sig
		matrix[j] = make([]float64, len(rows))
		for i, ts := range rows {
			if v, ok := c.values[ts]; ok {
				matrix[j][i] = v
			} else {
				matrix[j][i] = c.mean
			}
		}
	}
	return kept, matrix
}

func clamp(w, limit float64) float64 {
	if w > limit {
		return limit
	}
	if w < -limit {
		return -limit
	}
	return w
}
