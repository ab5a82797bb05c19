// Package spread maintains an exponentially smoothed hedge model per pair and
// flags z-score divergences of the resulting spread.
package spread

import (
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/metrics"
	"github.com/evdnx/gopairs/types"
)

// State is the running model of one pair.
type State struct {
	Beta       float64   `json:"beta"`
	Mean       float64   `json:"mean"`
	Std        float64   `json:"std"`
	LastSignal time.Time `json:"last_signal"`
	// ZScore of the most recent update.
	ZScore  float64 `json:"z_score"`
	Updates int     `json:"updates"`
}

func newState() *State { return &State{Beta: 1, Mean: 0, Std: 1} }

// PairSignal is the pair of leg signals produced by one divergence.
type PairSignal struct {
	Pair   types.Pair
	ZScore float64
	Time   time.Time
	// Legs holds the A leg first, then the B leg.
	Legs [2]types.Signal
}

// Estimator owns the state registry for every tracked pair. It is not safe for
// concurrent use; OnBar parallelises internally when configured to.
type Estimator struct {
	cfg    config.Estimator
	log    logger.Logger
	pairs  []types.Pair
	states map[types.Pair]*State
}

// NewEstimator builds an estimator tracking cfg.Pairs.
func NewEstimator(cfg config.Estimator, log logger.Logger) *Estimator {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Estimator{cfg: cfg, log: log, states: make(map[types.Pair]*State)}
	e.SetPairs(cfg.Pairs)
	return e
}

// SetPairs replaces the tracked set. Pairs that stay keep their state, removed
// pairs are dropped and new ones start from the neutral defaults.
func (e *Estimator) SetPairs(pairs []types.Pair) {
	keep := make(map[types.Pair]bool, len(pairs))
	next := make([]types.Pair, 0, len(pairs))
	for _, p := range pairs {
		if keep[p] {
			continue
		}
		keep[p] = true
		next = append(next, p)
		if _, ok := e.states[p]; !ok {
			e.states[p] = newState()
		}
	}
	for p := range e.states {
		if !keep[p] {
			delete(e.states, p)
		}
	}
	e.pairs = next
}

// Pairs returns the tracked pairs in evaluation order.
func (e *Estimator) Pairs() []types.Pair {
	return append([]types.Pair(nil), e.pairs...)
}

// State returns a copy of the state of p.
func (e *Estimator) State(p types.Pair) (State, bool) {
	st, ok := e.states[p]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Update feeds one observation of pair p. The returned signal is nil when
// nothing was emitted. Zero or non-finite prices leave the state untouched.
func (e *Estimator) Update(p types.Pair, priceA, priceB float64, now time.Time) *PairSignal {
	if !usable(priceA) || !usable(priceB) || priceB == 0 {
		return nil
	}
	st, ok := e.states[p]
	if !ok {
		st = newState()
		e.states[p] = st
		e.pairs = append(e.pairs, p)
	}
	return e.step(p, st, priceA, priceB, now)
}

func (e *Estimator) step(p types.Pair, st *State, pA, pB float64, now time.Time) *PairSignal {
	d := e.cfg.Decay
	w := 1 - d

	st.Beta = d*st.Beta + w*(pA/pB)
	spread := pA - st.Beta*pB
	st.Mean = d*st.Mean + w*spread
	st.Std = math.Max(d*st.Std+w*math.Abs(spread-st.Mean), e.cfg.Epsilon)
	z := (spread - st.Mean) / st.Std
	st.ZScore = z
	st.Updates++

	if !st.LastSignal.IsZero() && now.Sub(st.LastSignal) < e.cfg.Cooldown {
		return nil
	}

	var dirA types.Direction
	switch {
	case z > e.cfg.Threshold:
		dirA = types.Down
	case z < -e.cfg.Threshold:
		dirA = types.Up
	default:
		return nil
	}
	st.LastSignal = now

	leg := func(sym string, dir types.Direction) types.Signal {
		return types.Signal{
			Instrument:  sym,
			Direction:   dir,
			GeneratedAt: now,
			Horizon:     e.cfg.Horizon,
			Pair:        p,
			ZScore:      z,
		}
	}
	return &PairSignal{
		Pair:   p,
		ZScore: z,
		Time:   now,
		Legs:   [2]types.Signal{leg(p.A, dirA), leg(p.B, -dirA)},
	}
}

type outcome struct {
	sig    *PairSignal
	reason string
}

// OnBar evaluates every tracked pair against bar and returns the emitted
// signals in pair order. Pairs with a missing leg are skipped for this bar.
func (e *Estimator) OnBar(bar types.Bar) []*PairSignal {
	results := make([]outcome, len(e.pairs))
	eval := func(i int) {
		p := e.pairs[i]
		pA, okA := bar.Close(p.A)
		pB, okB := bar.Close(p.B)
		switch {
		case !okA || !okB:
			results[i].reason = "missing_leg"
			return
		case pB == 0:
			results[i].reason = "zero_price"
			return
		}
		results[i].sig = e.step(p, e.states[p], pA, pB, bar.Time)
	}

	if e.cfg.Workers > 1 && len(e.pairs) > 1 {
		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for i := range e.pairs {
			i := i
			g.Go(func() error {
				eval(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range e.pairs {
			eval(i)
		}
	}

	lim := logger.NewLimited(e.log, e.cfg.MaxLogsPerBar)
	defer lim.Flush()

	var out []*PairSignal
	for i, r := range results {
		p := e.pairs[i]
		if r.reason != "" {
			metrics.BarsSkipped.WithLabelValues(r.reason).Inc()
			lim.Debug("pair_update_skipped",
				logger.String("pair", p.String()),
				logger.String("reason", r.reason),
				logger.Time("bar", bar.Time))
			continue
		}
		metrics.SpreadZScore.WithLabelValues(p.String()).Set(e.states[p].ZScore)
		if r.sig == nil {
			continue
		}
		metrics.SignalsEmitted.WithLabelValues(p.String(), r.sig.Legs[0].Direction.String()).Inc()
		lim.Info("pair_signal",
			logger.String("pair", p.String()),
			logger.Float64("z", r.sig.ZScore),
			logger.String("a_direction", r.sig.Legs[0].Direction.String()),
			logger.Time("bar", bar.Time))
		out = append(out, r.sig)
	}
	return out
}

// PairState is one registry entry inside a Snapshot.
type PairState struct {
	Pair  types.Pair `json:"pair"`
	State State      `json:"state"`
}

// Snapshot is a serialisable copy of the registry.
type Snapshot struct {
	Taken time.Time   `json:"taken"`
	Pairs []PairState `json:"pairs"`
}

// Snapshot copies the state of every tracked pair, sorted by pair name.
func (e *Estimator) Snapshot(now time.Time) Snapshot {
	s := Snapshot{Taken: now, Pairs: make([]PairState, 0, len(e.pairs))}
	for _, p := range e.pairs {
		s.Pairs = append(s.Pairs, PairState{Pair: p, State: *e.states[p]})
	}
	sort.Slice(s.Pairs, func(i, j int) bool {
		return s.Pairs[i].Pair.String() < s.Pairs[j].Pair.String()
	})
	return s
}

// Restore installs states from s for pairs that are currently tracked and
// returns how many were restored.
func (e *Estimator) Restore(s Snapshot) int {
	n := 0
	for _, ps := range s.Pairs {
		if _, ok := e.states[ps.Pair]; !ok {
			continue
		}
		st := ps.State
		if st.Std < e.cfg.Epsilon {
			st.Std = e.cfg.Epsilon
		}
		e.states[ps.Pair] = &st
		n++
	}
	return n
}

func usable(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
