package executor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/types"
)

var (
	ErrUnknownSide      = errors.New("executor: unknown order side")
	ErrInsufficientCash = errors.New("executor: insufficient cash")
)

type Executor interface {
	Submit(o types.Order) error
	// For back-testing we expose the portfolio state
	Equity() float64
	Position(symbol string) (qty float64, avgPrice float64)
	Positions() map[string]types.Position
}

// PaperExecutor fills every order in full at Order.Price. No slippage, no fees.
type PaperExecutor struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]types.Position
	last      map[string]float64
	log       logger.Logger
}

func NewPaperExecutor(startEquity float64, log logger.Logger) *PaperExecutor {
	if log == nil {
		log = logger.NewNop()
	}
	return &PaperExecutor{
		cash:      startEquity,
		positions: make(map[string]types.Position),
		last:      make(map[string]float64),
		log:       log,
	}
}

func (p *PaperExecutor) Submit(o types.Order) error {
	if o.Qty == 0 {
		return nil
	}
	if o.Qty < 0 || o.Price <= 0 {
		return fmt.Errorf("executor: invalid order %s qty=%v price=%v", o.Symbol, o.Qty, o.Price)
	}
	var delta float64
	switch o.Side {
	case types.Buy:
		delta = o.Qty
	case types.Sell:
		delta = -o.Qty
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSide, o.Side)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := o.Price * delta
	if cost > p.cash {
		p.log.Warn("order_rejected",
			logger.String("symbol", o.Symbol),
			logger.String("side", string(o.Side)),
			logger.Float64("qty", o.Qty),
			logger.Float64("cash", p.cash),
		)
		return ErrInsufficientCash
	}
	p.cash -= cost
	p.positions[o.Symbol] = apply(p.positions[o.Symbol], delta, o.Price)
	if p.positions[o.Symbol].Qty == 0 {
		delete(p.positions, o.Symbol)
	}
	p.last[o.Symbol] = o.Price

	p.log.Info("order_filled",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.Float64("cash", p.cash),
	)
	return nil
}

// apply folds a signed fill into pos. Increases average in, reductions keep
// the entry price and a flip re-bases at the fill price.
func apply(pos types.Position, delta, price float64) types.Position {
	next := pos.Qty + delta
	switch {
	case math.Abs(next) < 1e-12:
		return types.Position{}
	case pos.Qty == 0 || (pos.Qty > 0) == (delta > 0):
		avg := (math.Abs(pos.Qty)*pos.AvgPrice + math.Abs(delta)*price) / math.Abs(next)
		return types.Position{Qty: next, AvgPrice: avg}
	case (pos.Qty > 0) == (next > 0):
		return types.Position{Qty: next, AvgPrice: pos.AvgPrice}
	default:
		return types.Position{Qty: next, AvgPrice: price}
	}
}

// Mark updates the last known prices used by Equity.
func (p *PaperExecutor) Mark(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, px := range prices {
		if px > 0 {
			p.last[sym] = px
		}
	}
}

// Cash is the uninvested balance.
func (p *PaperExecutor) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity is cash plus every position marked at its last price.
func (p *PaperExecutor) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	eq := p.cash
	for sym, pos := range p.positions {
		eq += pos.Qty * p.last[sym]
	}
	return eq
}

func (p *PaperExecutor) Position(sym string) (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos := p.positions[sym]
	return pos.Qty, pos.AvgPrice
}

func (p *PaperExecutor) Positions() map[string]types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]types.Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = pos
	}
	return out
}

// Invested lists symbols with a non-zero position, sorted.
func Invested(e Executor) []string {
	var out []string
	for sym, pos := range e.Positions() {
		if pos.Qty != 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
