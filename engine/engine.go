// Package engine runs the per-bar loop of the basket pairs strategy: spread
// signals feed an insight set, the insight set drives the return tracker and
// the cointegration allocator, and allocations become orders.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evdnx/gopairs/allocation"
	"github.com/evdnx/gopairs/coint"
	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/executor"
	"github.com/evdnx/gopairs/history"
	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/metrics"
	"github.com/evdnx/gopairs/publish"
	"github.com/evdnx/gopairs/returns"
	"github.com/evdnx/gopairs/risk"
	"github.com/evdnx/gopairs/selection"
	"github.com/evdnx/gopairs/spread"
	"github.com/evdnx/gopairs/store"
	"github.com/evdnx/gopairs/types"
)

// Deps are the collaborators of an Engine. Exec and History are required.
type Deps struct {
	Exec    executor.Executor
	History history.Provider
	Sink    publish.Sink
	Store   store.Store
	Log     logger.Logger
	// Fit overrides the cointegration regression used by the allocator.
	Fit coint.Fitter
}

// Step summarises what one bar did.
type Step struct {
	Time       time.Time
	Signals    []types.Signal
	Rebalanced bool
	Allocation allocation.Result
	Orders     []types.Order
}

// marker is implemented by executors that value positions at the last price.
type marker interface {
	Mark(prices map[string]float64)
}

type Engine struct {
	cfg      *config.Config
	exec     executor.Executor
	hist     history.Provider
	sink     publish.Sink
	store    store.Store
	log      logger.Logger
	est      *spread.Estimator
	tracker  *returns.Tracker
	insights *Insights
	sched    *Schedule
	stop     *risk.TrailingStop
	alloc    allocation.Options

	mu            sync.Mutex
	prices        map[string]float64
	bars          int
	lastSelection time.Time
	week          int // ISO year*100 + week of the previous bar
}

func New(cfg *config.Config, d Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if d.Exec == nil || d.History == nil {
		return nil, errors.New("engine: executor and history provider are required")
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Sink == nil {
		d.Sink = publish.NopSink{}
	}
	est := spread.NewEstimator(cfg.Estimator, d.Log)
	return &Engine{
		cfg:      cfg,
		exec:     d.Exec,
		hist:     d.History,
		sink:     d.Sink,
		store:    d.Store,
		log:      d.Log,
		est:      est,
		tracker:  returns.NewTracker(d.History, cfg.Allocator.Lookback, cfg.Allocator.BarSize, d.Log),
		insights: NewInsights(),
		sched:    NewSchedule(cfg.Allocator),
		stop:     risk.NewTrailingStop(cfg.Risk.TrailingStopPct, cfg.Risk.Trail),
		alloc: allocation.Options{
			MaxPositionSize: cfg.Allocator.MaxPositionSize,
			PValueCutoff:    cfg.Allocator.PValueCutoff,
			Fit:             d.Fit,
		},
		prices: make(map[string]float64),
	}, nil
}

// Estimator exposes the spread registry.
func (e *Engine) Estimator() *spread.Estimator { return e.est }

// Insights exposes the current insight set.
func (e *Engine) Insights() *Insights { return e.insights }

// Start restores the estimator from the store and runs an initial pair
// selection when selection is enabled. With selection the stored pairs are
// tracked first so that pairs selected again keep their state.
func (e *Engine) Start(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		snap, err := e.store.Load(ctx, e.cfg.App.Name)
		switch {
		case errors.Is(err, store.ErrNoSnapshot):
			e.log.Info("snapshot_missing", logger.String("strategy", e.cfg.App.Name))
		case err != nil:
			return fmt.Errorf("engine: load snapshot: %w", err)
		default:
			if e.cfg.Selection.Enabled {
				pairs := e.est.Pairs()
				for _, ps := range snap.Pairs {
					pairs = append(pairs, ps.Pair)
				}
				e.est.SetPairs(pairs)
			}
			n := e.est.Restore(snap)
			e.log.Info("snapshot_restored",
				logger.String("strategy", e.cfg.App.Name),
				logger.Int("pairs", n),
				logger.Time("taken", snap.Taken))
		}
	}
	if e.cfg.Selection.Enabled {
		if err := e.selectPairs(ctx, now); err != nil {
			return err
		}
	}
	return nil
}

// OnBar processes one time slice. An allocation failure is returned after the
// bar's other work is done; the engine stays usable for the next bar.
func (e *Engine) OnBar(ctx context.Context, bar types.Bar) (Step, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	step := Step{Time: bar.Time}
	for sym := range bar.Candles {
		if px, ok := bar.Close(sym); ok {
			e.prices[sym] = px
		}
	}
	if m, ok := e.exec.(marker); ok {
		m.Mark(e.prices)
	}

	if e.cfg.Selection.Enabled && !bar.Time.Before(e.lastSelection.Add(e.cfg.Selection.Interval)) {
		if err := e.selectPairs(ctx, bar.Time); err != nil {
			e.log.Warn("selection_failed", logger.Err(err))
		}
	}

	for _, ps := range e.est.OnBar(bar) {
		step.Signals = append(step.Signals, ps.Legs[0], ps.Legs[1])
	}
	changed := e.insights.Add(step.Signals...)
	if e.insights.Expire(bar.Time) {
		changed = true
	}
	metrics.ActiveInsights.Set(float64(e.insights.Len()))

	for _, sym := range bar.Adjusted {
		if err := e.tracker.Reload(ctx, sym, bar.Time); err != nil {
			e.log.Warn("returns_reload_failed", logger.String("instrument", sym), logger.Err(err))
		}
	}
	if err := e.tracker.Sync(ctx, e.insights.Instruments(), bar.Time); err != nil {
		e.log.Warn("returns_sync_failed", logger.Err(err))
	}
	e.tracker.OnBar(bar)

	stopped := make(map[string]bool)
	for _, o := range e.stop.Check(e.exec.Positions(), e.prices) {
		if e.submit(o, "trailing_stop") == nil {
			step.Orders = append(step.Orders, o)
			stopped[o.Symbol] = true
		}
	}

	var allocErr error
	if e.sched.Due(bar.Time) || (changed && e.cfg.Allocator.RebalanceOnSignals) {
		orders, res, err := e.rebalance(ctx, bar.Time, stopped)
		if err != nil {
			allocErr = err
		} else {
			step.Rebalanced = true
			step.Allocation = res
			step.Orders = append(step.Orders, orders...)
		}
	}

	if err := e.sink.PublishSignals(ctx, step.Signals); err != nil {
		e.log.Warn("publish_signals_failed", logger.Err(err))
	}
	metrics.EquityGauge.Set(e.exec.Equity())

	e.weeklySummary(bar.Time)
	e.bars++
	if every := e.cfg.App.SnapshotEvery; every > 0 && e.bars%every == 0 {
		e.snapshot(ctx, bar.Time)
	}
	return step, allocErr
}

// rebalance runs the allocator over the filtered insight set and trades the
// book towards the resulting weights. Symbols in stopped were liquidated on
// this bar and stay flat until the next rebalance.
func (e *Engine) rebalance(ctx context.Context, now time.Time, stopped map[string]bool) ([]types.Order, allocation.Result, error) {
	positions := e.exec.Positions()
	active := e.insights.Active(now)

	targets := make([]types.Signal, 0, len(active))
	for _, s := range active {
		if pos, ok := positions[s.Instrument]; ok && sameDirection(pos.Qty, s.Direction) {
			continue
		}
		targets = append(targets, s)
		if !e.tracker.IsReady(s.Instrument) {
			e.log.Debug("returns_window_partial", logger.String("instrument", s.Instrument))
		}
	}

	res, err := allocation.Allocate(targets, e.tracker, e.alloc)
	if err != nil {
		metrics.Allocations.WithLabelValues("error").Inc()
		e.log.Error("allocation_failed",
			logger.Int("signals", len(targets)),
			logger.Time("bar", now),
			logger.Err(err))
		return nil, allocation.Result{}, err
	}
	e.sched.Mark(now)
	metrics.Allocations.WithLabelValues(string(res.Outcome)).Inc()

	weights := make(map[string]float64, len(res.Weights))
	for sym, w := range res.Weights {
		weights[sym] = w
		metrics.TargetWeight.WithLabelValues(sym).Set(w)
	}
	for sym := range stopped {
		weights[sym] = 0
		metrics.TargetWeight.WithLabelValues(sym).Set(0)
	}
	// holdings whose signal expired are closed
	for sym := range positions {
		if _, ok := e.insights.Get(sym); !ok {
			if _, set := weights[sym]; !set {
				weights[sym] = 0
				metrics.TargetWeight.WithLabelValues(sym).Set(0)
			}
		}
	}

	e.log.Info("rebalance",
		logger.String("outcome", string(res.Outcome)),
		logger.Float64("pvalue", res.PValue),
		logger.Int("signals", len(targets)),
		logger.Time("bar", now))

	var orders []types.Order
	for _, o := range e.orders(weights, positions) {
		if e.submit(o, "rebalance") == nil {
			orders = append(orders, o)
		}
	}

	a := publish.Allocation{
		Strategy: e.cfg.App.Name,
		Time:     now,
		Weights:  res.Weights,
		Columns:  res.Columns,
		Vector:   res.Vector,
		PValue:   res.PValue,
		Outcome:  string(res.Outcome),
	}
	if err := e.sink.PublishAllocation(ctx, a); err != nil {
		e.log.Warn("publish_allocation_failed", logger.Err(err))
	}
	return orders, res, nil
}

// orders converts target weights into the deltas against current holdings.
// Sells come first so that buys can use the freed cash.
func (e *Engine) orders(weights map[string]float64, positions map[string]types.Position) []types.Order {
	equity := e.exec.Equity()
	var sells, buys []types.Order
	for sym, w := range weights {
		px, ok := e.prices[sym]
		if !ok || px <= 0 {
			e.log.Warn("target_without_price", logger.String("instrument", sym))
			continue
		}
		target := risk.TargetQty(equity, w, px, e.cfg.Risk)
		delta := target - positions[sym].Qty
		if delta == 0 {
			continue
		}
		o := types.Order{Symbol: sym, Price: px, Comment: "rebalance"}
		if delta > 0 {
			o.Side, o.Qty = types.Buy, delta
			buys = append(buys, o)
		} else {
			o.Side, o.Qty = types.Sell, -delta
			sells = append(sells, o)
		}
	}
	bySymbol := func(list []types.Order) {
		sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	}
	bySymbol(sells)
	bySymbol(buys)
	return append(sells, buys...)
}

// submit records metrics and logs around Executor.Submit.
func (e *Engine) submit(o types.Order, ctx string) error {
	err := e.exec.Submit(o)
	if err != nil {
		e.log.Error("order_submit_failed",
			logger.String("symbol", o.Symbol),
			logger.String("side", string(o.Side)),
			logger.Float64("qty", o.Qty),
			logger.Err(err),
		)
		return err
	}
	e.log.Info("order_submitted",
		logger.String("symbol", o.Symbol),
		logger.String("side", string(o.Side)),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", o.Price),
		logger.String("ctx", ctx),
	)
	metrics.OrdersSubmitted.WithLabelValues(ctx, string(o.Side)).Inc()
	return nil
}

func (e *Engine) selectPairs(ctx context.Context, now time.Time) error {
	e.lastSelection = now
	cands, err := selection.Select(ctx, e.hist, e.cfg.Selection.Universe,
		selection.OptionsFromConfig(e.cfg.Selection, now), e.log)
	if err != nil {
		return fmt.Errorf("engine: select pairs: %w", err)
	}
	if len(cands) == 0 {
		e.log.Warn("selection_empty", logger.Int("kept", len(e.est.Pairs())))
		return nil
	}
	pairs := selection.Pairs(cands)
	e.est.SetPairs(pairs)
	for _, c := range cands {
		e.log.Info("pair_selected",
			logger.String("pair", c.Pair.String()),
			logger.Float64("pvalue", c.PValue),
			logger.Float64("correlation", c.Correlation),
			logger.Float64("volatility", c.Volatility))
	}
	return nil
}

// weeklySummary logs once when a bar opens a new ISO week.
func (e *Engine) weeklySummary(now time.Time) {
	y, w := now.UTC().ISOWeek()
	week := y*100 + w
	if e.week != 0 && week != e.week {
		e.log.Info("weekly_summary",
			logger.Float64("equity", e.exec.Equity()),
			logger.Any("invested", executor.Invested(e.exec)),
			logger.Int("insights", e.insights.Len()),
			logger.Time("bar", now))
	}
	e.week = week
}

func (e *Engine) snapshot(ctx context.Context, now time.Time) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, e.cfg.App.Name, e.est.Snapshot(now)); err != nil {
		e.log.Warn("snapshot_failed", logger.Err(err))
	}
}

// Close persists a final snapshot and closes the sink.
func (e *Engine) Close(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot(ctx, now)
	return e.sink.Close()
}

func sameDirection(qty float64, d types.Direction) bool {
	return (qty > 0 && d == types.Up) || (qty < 0 && d == types.Down)
}
