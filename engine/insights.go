package engine

import (
	"sort"
	"time"

	"github.com/evdnx/gopairs/types"
)

// Insights holds at most one signal per instrument. A newer signal replaces
// an older one; expired signals are dropped by Expire.
type Insights struct {
	byInstrument map[string]types.Signal
}

func NewInsights() *Insights {
	return &Insights{byInstrument: make(map[string]types.Signal)}
}

// Add merges sigs and reports whether the set changed.
func (in *Insights) Add(sigs ...types.Signal) bool {
	changed := false
	for _, s := range sigs {
		cur, ok := in.byInstrument[s.Instrument]
		if ok && s.GeneratedAt.Before(cur.GeneratedAt) {
			continue
		}
		if ok && cur == s {
			continue
		}
		in.byInstrument[s.Instrument] = s
		changed = true
	}
	return changed
}

// Expire removes signals that are no longer active at now.
func (in *Insights) Expire(now time.Time) bool {
	changed := false
	for sym, s := range in.byInstrument {
		if !s.IsActive(now) {
			delete(in.byInstrument, sym)
			changed = true
		}
	}
	return changed
}

// Active returns the live signals sorted by instrument.
func (in *Insights) Active(now time.Time) []types.Signal {
	out := make([]types.Signal, 0, len(in.byInstrument))
	for _, s := range in.byInstrument {
		if s.IsActive(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Get returns the signal held for sym.
func (in *Insights) Get(sym string) (types.Signal, bool) {
	s, ok := in.byInstrument[sym]
	return s, ok
}

// Instruments lists the instruments with a signal, sorted.
func (in *Insights) Instruments() []string {
	out := make([]string, 0, len(in.byInstrument))
	for sym := range in.byInstrument {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (in *Insights) Len() int { return len(in.byInstrument) }
