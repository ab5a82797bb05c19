package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/evdnx/gopairs/allocation"
	"github.com/evdnx/gopairs/coint"
	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/history"
	"github.com/evdnx/gopairs/spread"
	"github.com/evdnx/gopairs/store"
	"github.com/evdnx/gopairs/testutils"
	"github.com/evdnx/gopairs/types"
)

// t0 is a Tuesday.
var t0 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

var ab = types.Pair{A: "A", B: "B"}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Estimator.Pairs = []types.Pair{ab}
	cfg.Estimator.Threshold = 2.0
	cfg.Estimator.Cooldown = 0
	cfg.Allocator.Lookback = 10
	cfg.App.SnapshotEvery = 0
	return cfg
}

// stubFit always reports a significant long-short vector.
func stubFit(y []float64, x [][]float64) (coint.Result, error) {
	return coint.Result{Vector: []float64{1, -1}, PValue: 0.01}, nil
}

var pricesA = []float64{100, 101, 99, 150}

// testHistory holds 30 hourly candles before t0 plus the four scenario bars.
func testHistory() *history.Memory {
	mem := history.NewMemory()
	for i := -30; i < 0; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		mem.Add("A", types.Candle{Time: ts, Close: 100 + float64((i+30)%3)})
		mem.Add("B", types.Candle{Time: ts, Close: 100})
	}
	for i, pa := range pricesA {
		ts := t0.Add(time.Duration(i) * time.Hour)
		mem.Add("A", types.Candle{Time: ts, Close: pa})
		mem.Add("B", types.Candle{Time: ts, Close: 100})
	}
	return mem
}

func bar(i int, closes map[string]float64) types.Bar {
	b := types.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Candles: make(map[string]types.Candle)}
	for sym, c := range closes {
		b.Candles[sym] = types.Candle{Time: b.Time, Close: c}
	}
	return b
}

type fixture struct {
	eng  *Engine
	exec *testutils.MockExecutor
	sink *testutils.MockSink
	log  *testutils.MockLogger
}

func newFixture(t *testing.T, cfg *config.Config, fit coint.Fitter, st store.Store) fixture {
	t.Helper()
	f := fixture{
		exec: testutils.NewMockExecutor(100000),
		sink: testutils.NewMockSink(),
		log:  testutils.NewMockLogger(),
	}
	eng, err := New(cfg, Deps{Exec: f.exec, History: testHistory(), Sink: f.sink, Store: st, Log: f.log, Fit: fit})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.eng = eng
	return f
}

// runScenario feeds the first n scenario bars and returns the last step.
func runScenario(t *testing.T, f fixture, n int) (Step, error) {
	t.Helper()
	var (
		step Step
		err  error
	)
	for i := 0; i < n; i++ {
		step, err = f.eng.OnBar(context.Background(), bar(i, map[string]float64{"A": pricesA[i], "B": 100}))
		if i < n-1 && err != nil {
			t.Fatalf("bar %d: %v", i+1, err)
		}
	}
	return step, err
}

/*
Test 1 – the divergence on bar 4 becomes a short A / long B book, sells first.
*/
func TestEngineSignalToOrders(t *testing.T) {
	f := newFixture(t, testConfig(), stubFit, nil)

	step, err := runScenario(t, f, 4)
	if err != nil {
		t.Fatalf("bar 4: %v", err)
	}
	if len(step.Signals) != 2 || !step.Rebalanced {
		t.Fatalf("unexpected step %+v", step)
	}
	if step.Allocation.Outcome != allocation.Allocated {
		t.Fatalf("outcome = %s", step.Allocation.Outcome)
	}
	if math.Abs(step.Allocation.Weights["A"]+0.2) > 1e-12 || math.Abs(step.Allocation.Weights["B"]-0.2) > 1e-12 {
		t.Fatalf("weights = %v", step.Allocation.Weights)
	}

	orders := f.exec.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %+v", orders)
	}
	if orders[0].Symbol != "A" || orders[0].Side != types.Sell || orders[0].Qty != 133 {
		t.Fatalf("first order %+v", orders[0])
	}
	if orders[1].Symbol != "B" || orders[1].Side != types.Buy || orders[1].Qty != 200 {
		t.Fatalf("second order %+v", orders[1])
	}

	if got := f.sink.Signals(); len(got) != 2 {
		t.Fatalf("published %d signals", len(got))
	}
	allocs := f.sink.Allocations()
	// bar 1 (first scheduled run) and bar 4 (insight change)
	if len(allocs) != 2 || allocs[1].Outcome != string(allocation.Allocated) || allocs[1].Strategy != "etf-basket-pairs" {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
	if f.eng.Insights().Len() != 2 {
		t.Fatalf("insights = %d", f.eng.Insights().Len())
	}
}

/*
Test 2 – once the horizon passes the insights expire and the book is closed.
*/
func TestEngineExpiryFlattens(t *testing.T) {
	f := newFixture(t, testConfig(), stubFit, nil)
	if _, err := runScenario(t, f, 4); err != nil {
		t.Fatalf("scenario: %v", err)
	}

	ctx := context.Background()
	for i := 4; i < 9; i++ {
		step, err := f.eng.OnBar(ctx, bar(i, map[string]float64{"C": 50}))
		if err != nil || step.Rebalanced {
			t.Fatalf("bar %d: rebalanced=%v err=%v", i+1, step.Rebalanced, err)
		}
	}
	// signals were generated at t0+3h with a 6h horizon
	step, err := f.eng.OnBar(ctx, bar(9, map[string]float64{"C": 50}))
	if err != nil {
		t.Fatalf("expiry bar: %v", err)
	}
	if !step.Rebalanced || f.eng.Insights().Len() != 0 {
		t.Fatalf("expected rebalance on expiry, got %+v", step)
	}
	if len(step.Orders) != 2 {
		t.Fatalf("expected 2 closing orders, got %+v", step.Orders)
	}
	if step.Orders[0].Symbol != "B" || step.Orders[0].Side != types.Sell || step.Orders[0].Qty != 200 {
		t.Fatalf("first close %+v", step.Orders[0])
	}
	if step.Orders[1].Symbol != "A" || step.Orders[1].Side != types.Buy || step.Orders[1].Qty != 133 {
		t.Fatalf("second close %+v", step.Orders[1])
	}
	if len(f.exec.Positions()) != 0 {
		t.Fatalf("positions left: %v", f.exec.Positions())
	}
}

/*
Test 3 – a signal whose instrument is already held in the same direction is
not re-targeted and its holding is left alone.
*/
func TestEngineSkipsSameDirectionHoldings(t *testing.T) {
	f := newFixture(t, testConfig(), stubFit, nil)
	if _, err := runScenario(t, f, 3); err != nil {
		t.Fatalf("scenario: %v", err)
	}
	f.exec.SetPosition("A", -50, 140)

	step, err := f.eng.OnBar(context.Background(), bar(3, map[string]float64{"A": 150, "B": 100}))
	if err != nil {
		t.Fatalf("bar 4: %v", err)
	}
	if !step.Rebalanced || step.Allocation.Outcome != allocation.InsufficientSignals {
		t.Fatalf("unexpected step %+v", step)
	}
	if len(step.Orders) != 0 {
		t.Fatalf("unexpected orders %+v", step.Orders)
	}
	if qty, _ := f.exec.Position("A"); qty != -50 {
		t.Fatalf("A holding changed to %v", qty)
	}
}

/*
Test 4 – a failing regression is reported for that bar only.
*/
func TestEngineAllocationErrorIsolated(t *testing.T) {
	boom := errors.New("boom")
	fail := func(y []float64, x [][]float64) (coint.Result, error) { return coint.Result{}, boom }
	f := newFixture(t, testConfig(), fail, nil)

	step, err := runScenario(t, f, 4)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(step.Signals) != 2 || step.Rebalanced {
		t.Fatalf("unexpected step %+v", step)
	}
	if len(f.sink.Signals()) != 2 {
		t.Fatal("signals should still be published")
	}
	if f.log.Count("allocation_failed") != 1 {
		t.Fatal("allocation failure not logged")
	}
	if len(f.exec.Orders()) != 0 {
		t.Fatal("no orders expected")
	}

	if _, err := f.eng.OnBar(context.Background(), bar(4, map[string]float64{"C": 1})); err != nil {
		t.Fatalf("next bar: %v", err)
	}
}

/*
Test 5 – the trailing stop liquidates a position that fell through its level.
*/
func TestEngineTrailingStop(t *testing.T) {
	f := newFixture(t, testConfig(), stubFit, nil)
	f.exec.SetPosition("X", 10, 100)

	step, err := f.eng.OnBar(context.Background(), bar(0, map[string]float64{"A": 100, "B": 100, "X": 90}))
	if err != nil {
		t.Fatalf("bar: %v", err)
	}
	if len(step.Orders) != 1 {
		t.Fatalf("expected one liquidation, got %+v", step.Orders)
	}
	o := step.Orders[0]
	if o.Symbol != "X" || o.Side != types.Sell || o.Qty != 10 || o.Comment != "trailing_stop" {
		t.Fatalf("unexpected order %+v", o)
	}
	if qty, _ := f.exec.Position("X"); qty != 0 {
		t.Fatalf("X still held: %v", qty)
	}
}

/*
Test 6 – estimator state is snapshotted periodically and restored on Start.
*/
func TestEngineSnapshotRestore(t *testing.T) {
	cfg := testConfig()
	cfg.App.SnapshotEvery = 2
	st := store.NewMemory()
	f := newFixture(t, cfg, stubFit, st)
	if _, err := runScenario(t, f, 4); err != nil {
		t.Fatalf("scenario: %v", err)
	}

	snap, err := st.Load(context.Background(), cfg.App.Name)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Pairs) != 1 || !snap.Taken.Equal(t0.Add(3*time.Hour)) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	want, _ := f.eng.Estimator().State(ab)
	if snap.Pairs[0].State != want {
		t.Fatalf("snapshot %+v, want %+v", snap.Pairs[0].State, want)
	}

	if err := f.eng.Close(context.Background(), t0.Add(4*time.Hour)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !f.sink.Closed() {
		t.Fatal("sink not closed")
	}

	g := newFixture(t, cfg, stubFit, st)
	if err := g.eng.Start(context.Background(), t0.Add(5*time.Hour)); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, ok := g.eng.Estimator().State(ab)
	if !ok || got != want {
		t.Fatalf("restored %+v, want %+v", got, want)
	}
	if g.log.Count("snapshot_restored") != 1 {
		t.Fatal("restore not logged")
	}
}

var selectionBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// selectionHistory holds 200 hourly bars where only A/B is cointegrated.
func selectionHistory() *history.Memory {
	mem := history.NewMemory()
	for i := 0; i < 200; i++ {
		ts := selectionBase.Add(time.Duration(i) * time.Hour)
		b := 100 + 10*math.Sin(0.05*float64(i))
		alt := 1.0
		if i%2 == 1 {
			alt = -1
		}
		mem.Add("A", types.Candle{Time: ts, Close: 2*b + 0.01*alt})
		mem.Add("B", types.Candle{Time: ts, Close: b})
		mem.Add("C", types.Candle{Time: ts, Close: 100 + 5*alt})
	}
	return mem
}

func selectionConfig() *config.Config {
	cfg := testConfig()
	cfg.Estimator.Pairs = nil
	cfg.Selection.Enabled = true
	cfg.Selection.Universe = []string{"A", "B", "C"}
	cfg.Selection.Bars = 200
	return cfg
}

/*
Test 7 – Start with selection enabled replaces the tracked pairs.
*/
func TestEngineSelection(t *testing.T) {
	mem := selectionHistory()

	cfg := selectionConfig()
	cfg.Estimator.Pairs = []types.Pair{{A: "C", B: "B"}}
	log := testutils.NewMockLogger()
	eng, err := New(cfg, Deps{Exec: testutils.NewMockExecutor(1000), History: mem, Log: log})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := selectionBase.Add(200 * time.Hour)
	if err := eng.Start(context.Background(), now); err != nil {
		t.Fatalf("start: %v", err)
	}
	pairs := eng.Estimator().Pairs()
	if len(pairs) != 1 || pairs[0] != ab {
		t.Fatalf("pairs = %v", pairs)
	}
	if log.Count("pair_selected") != 1 {
		t.Fatal("selection not logged")
	}

	// within the interval no new selection runs
	if _, err := eng.OnBar(context.Background(), types.Bar{Time: now.Add(time.Hour)}); err != nil {
		t.Fatalf("bar: %v", err)
	}
	if log.Count("pair_selected") != 1 {
		t.Fatal("selection ran again inside its interval")
	}
}

/*
Test 8 – a bar opening a new ISO week logs the weekly summary.
*/
func TestEngineWeeklySummary(t *testing.T) {
	f := newFixture(t, testConfig(), stubFit, nil)
	ctx := context.Background()
	friday := time.Date(2024, 1, 5, 20, 0, 0, 0, time.UTC)
	monday := time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC)

	if _, err := f.eng.OnBar(ctx, types.Bar{Time: friday}); err != nil {
		t.Fatalf("friday: %v", err)
	}
	if f.log.Count("weekly_summary") != 0 {
		t.Fatal("summary logged too early")
	}
	if _, err := f.eng.OnBar(ctx, types.Bar{Time: monday}); err != nil {
		t.Fatalf("monday: %v", err)
	}
	if f.log.Count("weekly_summary") != 1 {
		t.Fatal("expected one weekly summary")
	}
}

/*
Test 9 – in selection mode the stored state of a re-selected pair survives
Start; pairs that were not selected again are dropped.
*/
func TestEngineSelectionKeepsRestoredState(t *testing.T) {
	cfg := selectionConfig()
	st := store.NewMemory()
	stored := spread.State{Beta: 1.7, Mean: 0.4, Std: 0.8, Updates: 42}
	snap := spread.Snapshot{
		Taken: selectionBase.Add(199 * time.Hour),
		Pairs: []spread.PairState{
			{Pair: ab, State: stored},
			{Pair: types.Pair{A: "C", B: "B"}, State: spread.State{Beta: 3, Std: 1}},
		},
	}
	if err := st.Save(context.Background(), cfg.App.Name, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	eng, err := New(cfg, Deps{Exec: testutils.NewMockExecutor(1000), History: selectionHistory(), Store: st})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := eng.Start(context.Background(), selectionBase.Add(200*time.Hour)); err != nil {
		t.Fatalf("start: %v", err)
	}
	pairs := eng.Estimator().Pairs()
	if len(pairs) != 1 || pairs[0] != ab {
		t.Fatalf("pairs = %v", pairs)
	}
	got, ok := eng.Estimator().State(ab)
	if !ok || got != stored {
		t.Fatalf("state %+v, want %+v", got, stored)
	}
}

/*
Test 10 – a position stopped out on a rebalance bar is not bought back while
its signal is still active.
*/
func TestEngineStopNotUndoneByRebalance(t *testing.T) {
	f := newFixture(t, testConfig(), stubFit, nil)
	if _, err := runScenario(t, f, 3); err != nil {
		t.Fatalf("scenario: %v", err)
	}
	// B at 100 is below 110 * 0.92
	f.exec.SetPosition("B", 200, 110)

	step, err := f.eng.OnBar(context.Background(), bar(3, map[string]float64{"A": 150, "B": 100}))
	if err != nil {
		t.Fatalf("bar 4: %v", err)
	}
	if !step.Rebalanced || step.Allocation.Outcome != allocation.Allocated {
		t.Fatalf("unexpected step %+v", step)
	}
	if len(step.Orders) != 2 {
		t.Fatalf("expected stop + A entry, got %+v", step.Orders)
	}
	stop := step.Orders[0]
	if stop.Symbol != "B" || stop.Side != types.Sell || stop.Qty != 200 || stop.Comment != "trailing_stop" {
		t.Fatalf("unexpected stop %+v", stop)
	}
	if o := step.Orders[1]; o.Symbol != "A" || o.Side != types.Sell || o.Qty != 133 {
		t.Fatalf("unexpected entry %+v", o)
	}
	if qty, _ := f.exec.Position("B"); qty != 0 {
		t.Fatalf("B re-entered: %v", qty)
	}
}

/*
Test 11 – a failing pair selection is logged and the bar still updates the
estimator.
*/
func TestEngineSelectionFailureScopedToBar(t *testing.T) {
	cfg := testConfig()
	cfg.Selection.Enabled = true
	cfg.Selection.Universe = []string{"A", "B"}
	f := newFixture(t, cfg, stubFit, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.eng.OnBar(ctx, bar(0, map[string]float64{"A": 100, "B": 100})); err != nil {
		t.Fatalf("bar: %v", err)
	}
	if f.log.Count("selection_failed") != 1 {
		t.Fatal("selection failure not logged")
	}
	if st, ok := f.eng.Estimator().State(ab); !ok || st.Updates != 1 {
		t.Fatalf("estimator skipped the bar: %+v", st)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Fatal("expected error without executor")
	}
	if _, err := New(nil, Deps{}); err == nil {
		t.Fatal("expected error without config")
	}
}
