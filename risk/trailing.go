package risk

import (
	"sort"

	"github.com/evdnx/gopairs/types"
)

// TrailingStop liquidates positions that moved Pct against their anchor. The
// anchor is the average entry price, or with Trail the best price seen since
// the position opened.
type TrailingStop struct {
	Pct   float64
	Trail bool
	best  map[string]float64
	side  map[string]bool // true = long
}

func NewTrailingStop(pct float64, trail bool) *TrailingStop {
	return &TrailingStop{Pct: pct, Trail: trail, best: make(map[string]float64), side: make(map[string]bool)}
}

// Check returns liquidation orders for every breached position. Symbols
// without a price on this bar are left alone.
func (ts *TrailingStop) Check(positions map[string]types.Position, prices map[string]float64) []types.Order {
	if ts.Pct <= 0 {
		return nil
	}
	for sym := range ts.best {
		if h, ok := positions[sym]; !ok || h.Qty == 0 {
			delete(ts.best, sym)
			delete(ts.side, sym)
		}
	}

	syms := make([]string, 0, len(positions))
	for sym := range positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	var out []types.Order
	for _, sym := range syms {
		h := positions[sym]
		px, ok := prices[sym]
		if h.Qty == 0 || !ok || px <= 0 {
			continue
		}
		long := h.Qty > 0
		best, seen := ts.best[sym]
		if !seen || ts.side[sym] != long || !ts.Trail {
			best = h.AvgPrice
			if best <= 0 {
				best = px
			}
		}
		if ts.Trail && ((long && px > best) || (!long && px < best)) {
			best = px
		}
		ts.best[sym], ts.side[sym] = best, long

		breached := (long && px < best*(1-ts.Pct)) || (!long && px > best*(1+ts.Pct))
		if !breached {
			continue
		}
		o := types.Order{Symbol: sym, Qty: h.Qty, Price: px, Comment: "trailing_stop"}
		if long {
			o.Side = types.Sell
		} else {
			o.Side = types.Buy
			o.Qty = -h.Qty
		}
		out = append(out, o)
		delete(ts.best, sym)
		delete(ts.side, sym)
	}
	return out
}
