package risk

import (
	"testing"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/types"
)

func TestTargetQtyStepAndPrecision(t *testing.T) {
	cfg := config.Risk{
		StepSize:          0.01,
		QuantityPrecision: 2,
		MinQty:            0.05,
	}
	qty := TargetQty(10_000, 0.01, 1.5, cfg) // $100 at $1.5 => raw 66.666
	if qty != 66.66 {                        // floor to step 0.01, then 2-dp -> 66.66
		t.Fatalf("unexpected qty: %v", qty)
	}
}

func TestTargetQtyRespectsMinQty(t *testing.T) {
	cfg := config.Risk{
		StepSize:          0.001,
		QuantityPrecision: 3,
		MinQty:            0.1,
	}
	qty := TargetQty(1000, 0.05, 5000, cfg) // raw 0.01 < MinQty
	if qty != 0 {
		t.Fatalf("expected 0 (below MinQty), got %v", qty)
	}
}

func TestTargetQtyZeroStepSize(t *testing.T) {
	cfg := config.Risk{
		StepSize:          0,
		QuantityPrecision: 2,
		MinQty:            0.001,
	}
	// step-size <= 0 is ignored
	qty := TargetQty(5000, 0.02, 0.5, cfg)
	if qty != 200 {
		t.Fatalf("expected 200, got %v", qty)
	}
}

func TestTargetQtyKeepsSign(t *testing.T) {
	cfg := config.Risk{StepSize: 1, MinQty: 1}
	if q := TargetQty(100_000, -0.2, 153.7, cfg); q != -130 {
		t.Fatalf("expected -130 shares, got %v", q)
	}
	if q := TargetQty(100_000, 0.2, 0, cfg); q != 0 {
		t.Fatalf("zero price must size to 0, got %v", q)
	}
}

/*
Test – a long position rides up, then gives back more than the trailing
percentage from its peak and is liquidated.
*/
func TestTrailingStopLong(t *testing.T) {
	ts := NewTrailingStop(0.08, true)
	pos := map[string]types.Position{"SPY": {Qty: 10, AvgPrice: 100}}

	for _, px := range []float64{105, 120, 112} {
		if out := ts.Check(pos, map[string]float64{"SPY": px}); len(out) != 0 {
			t.Fatalf("unexpected liquidation at %v", px)
		}
	}
	out := ts.Check(pos, map[string]float64{"SPY": 110})
	if len(out) != 1 || out[0].Side != types.Sell || out[0].Qty != 10 {
		t.Fatalf("expected sell 10, got %+v", out)
	}
}

func TestTrailingStopShort(t *testing.T) {
	ts := NewTrailingStop(0.08, false)
	pos := map[string]types.Position{"QQQ": {Qty: -5, AvgPrice: 200}}
	if out := ts.Check(pos, map[string]float64{"QQQ": 210}); len(out) != 0 {
		t.Fatalf("210 is within 8%% of 200: %+v", out)
	}
	out := ts.Check(pos, map[string]float64{"QQQ": 217})
	if len(out) != 1 || out[0].Side != types.Buy || out[0].Qty != 5 {
		t.Fatalf("expected buy-to-cover 5, got %+v", out)
	}
}

func TestTrailingStopDisabledAndMissingPrice(t *testing.T) {
	pos := map[string]types.Position{"SPY": {Qty: 10, AvgPrice: 100}}
	if out := NewTrailingStop(0, false).Check(pos, map[string]float64{"SPY": 1}); out != nil {
		t.Fatalf("disabled stop must not trade: %+v", out)
	}
	if out := NewTrailingStop(0.08, false).Check(pos, nil); len(out) != 0 {
		t.Fatalf("missing price must not trade: %+v", out)
	}
}

func TestStopAnchoredAtAveragePrice(t *testing.T) {
	ts := NewTrailingStop(0.08, false)
	pos := map[string]types.Position{"SPY": {Qty: 10, AvgPrice: 100}}
	// a rally does not move the anchor
	for _, px := range []float64{120, 93} {
		if out := ts.Check(pos, map[string]float64{"SPY": px}); len(out) != 0 {
			t.Fatalf("unexpected liquidation at %v", px)
		}
	}
	if out := ts.Check(pos, map[string]float64{"SPY": 91}); len(out) != 1 {
		t.Fatalf("expected liquidation below 92, got %+v", out)
	}
}
