package returns

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/evdnx/gopairs/history"
	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/types"
)

type tracked struct {
	series    *Series
	lastClose float64
	lastTime  time.Time
}

// Tracker owns the return window of every active instrument. An instrument is
// Uninitialized until Activate backfills it, Active while it has a window and
// Inactive (window discarded) after Deactivate.
type Tracker struct {
	provider history.Provider
	lookback int
	barSize  time.Duration
	log      logger.Logger
	active   map[string]*tracked
}

func NewTracker(p history.Provider, lookback int, barSize time.Duration, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{
		provider: p,
		lookback: lookback,
		barSize:  barSize,
		log:      log,
		active:   make(map[string]*tracked),
	}
}

// Activate backfills sym with lookback returns ending at now. Activating an
// active instrument is a no-op.
func (t *Tracker) Activate(ctx context.Context, sym string, now time.Time) error {
	if _, ok := t.active[sym]; ok {
		return nil
	}
	tr, err := t.backfill(ctx, sym, now)
	if err != nil {
		return err
	}
	t.active[sym] = tr
	t.log.Debug("returns_activated",
		logger.String("instrument", sym),
		logger.Int("points", tr.series.Len()))
	return nil
}

func (t *Tracker) backfill(ctx context.Context, sym string, now time.Time) (*tracked, error) {
	cs, err := t.provider.History(ctx, sym, t.lookback+1, t.barSize, now)
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", sym, err)
	}
	tr := &tracked{series: NewSeries(t.lookback)}
	for _, c := range cs {
		tr.push(c.Time, c.Close)
	}
	return tr, nil
}

// push appends the return from the previous close to close. Non-positive or
// non-finite closes are ignored.
func (tr *tracked) push(ts time.Time, close float64) {
	if close <= 0 || math.IsNaN(close) || math.IsInf(close, 0) {
		return
	}
	if tr.lastClose > 0 {
		tr.series.Add(Point{Time: ts, Value: math.Log(close / tr.lastClose)})
	}
	tr.lastClose = close
	tr.lastTime = ts
}

// Deactivate discards the window of sym.
func (t *Tracker) Deactivate(sym string) {
	if _, ok := t.active[sym]; !ok {
		return
	}
	delete(t.active, sym)
	t.log.Debug("returns_deactivated", logger.String("instrument", sym))
}

// Sync makes the active set equal to want. Backfill failures are collected and
// the failing instruments stay inactive so the next Sync retries them.
func (t *Tracker) Sync(ctx context.Context, want []string, now time.Time) error {
	keep := make(map[string]bool, len(want))
	for _, s := range want {
		keep[s] = true
	}
	for sym := range t.active {
		if !keep[sym] {
			t.Deactivate(sym)
		}
	}
	var errs []error
	for _, sym := range want {
		if err := t.Activate(ctx, sym, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnBar appends one return per active instrument that printed on bar. Bars at
// or before the last observed time are ignored.
func (t *Tracker) OnBar(bar types.Bar) {
	for sym, tr := range t.active {
		close, ok := bar.Close(sym)
		if !ok || !bar.Time.After(tr.lastTime) {
			continue
		}
		tr.push(bar.Time, close)
	}
}

// Reload rebuilds the window of an active instrument, typically after a split
// or dividend made the stored closes incomparable.
func (t *Tracker) Reload(ctx context.Context, sym string, now time.Time) error {
	if _, ok := t.active[sym]; !ok {
		return nil
	}
	tr, err := t.backfill(ctx, sym, now)
	if err != nil {
		return err
	}
	t.active[sym] = tr
	t.log.Info("returns_reloaded", logger.String("instrument", sym))
	return nil
}

// Returns is the window of sym, most recent first; nil when not active.
func (t *Tracker) Returns(sym string) []Point {
	tr, ok := t.active[sym]
	if !ok {
		return nil
	}
	return tr.series.Points()
}

// IsActive reports whether sym currently has a window.
func (t *Tracker) IsActive(sym string) bool {
	_, ok := t.active[sym]
	return ok
}

// IsReady reports whether sym holds a full lookback window.
func (t *Tracker) IsReady(sym string) bool {
	tr, ok := t.active[sym]
	return ok && tr.series.IsReady()
}

// Active lists active instruments, sorted.
func (t *Tracker) Active() []string {
	out := make([]string, 0, len(t.active))
	for s := range t.active {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
