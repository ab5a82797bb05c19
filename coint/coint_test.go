package coint

import (
	"errors"
	"math"
	"testing"
)

func TestEngleGrangerSignificant(t *testing.T) {
	n := 200
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = math.Sin(1.3 * float64(i))
		noise := 0.01
		if i%2 == 1 {
			noise = -0.01
		}
		y[i] = 2*x[i] + noise
	}
	res, err := EngleGranger(y, [][]float64{x})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PValue >= 0.01 {
		t.Fatalf("expected p < 0.01, got %v (stat %v)", res.PValue, res.Stat)
	}
	if len(res.Vector) != 2 || res.Vector[0] != 1 || math.Abs(res.Vector[1]+2) > 1e-2 {
		t.Fatalf("unexpected vector %v", res.Vector)
	}
	if math.Abs(res.Coefficients[0]-2) > 1e-2 {
		t.Fatalf("unexpected slope %v", res.Coefficients[0])
	}
	if len(res.Residuals) != n {
		t.Fatalf("expected %d residuals, got %d", n, len(res.Residuals))
	}
}

func TestEngleGrangerNotSignificant(t *testing.T) {
	n := 100
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = float64(i + 1)
		x[i] = 1
		if i%2 == 0 {
			x[i] = -1
		}
	}
	res, err := EngleGranger(y, [][]float64{x})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stat <= 0 {
		t.Fatalf("expected a positive statistic for a trending residual, got %v", res.Stat)
	}
	if res.PValue <= 0.10 {
		t.Fatalf("expected p > 0.10, got %v", res.PValue)
	}
}

func TestEngleGrangerDegenerate(t *testing.T) {
	y := []float64{1, 2, 3, 4, 5}
	x := []float64{2, 4, 6, 8, 10} // exact fit, zero residuals
	_, err := EngleGranger(y, [][]float64{x})
	if !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}

	zero := make([]float64, 5)
	if _, err := EngleGranger(y, [][]float64{zero}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate for a zero regressor, got %v", err)
	}
}

func TestEngleGrangerTooManySeries(t *testing.T) {
	y := make([]float64, 20)
	x := make([][]float64, 6)
	for j := range x {
		x[j] = make([]float64, 20)
	}
	if _, err := EngleGranger(y, x); !errors.Is(err, ErrTooManySeries) {
		t.Fatalf("expected ErrTooManySeries, got %v", err)
	}
}

func TestEngleGrangerInsufficientRows(t *testing.T) {
	if _, err := EngleGranger([]float64{1, 2}, [][]float64{{1, 2}}); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestMacKinnonPBounds(t *testing.T) {
	p, err := MacKinnonP(-30, 2)
	if err != nil || p != 0 {
		t.Fatalf("expected p=0 below tau_min, got %v (%v)", p, err)
	}
	p, err = MacKinnonP(5, 2)
	if err != nil || p != 1 {
		t.Fatalf("expected p=1 above tau_max, got %v (%v)", p, err)
	}
	if _, err := MacKinnonP(-2, 7); !errors.Is(err, ErrTooManySeries) {
		t.Fatalf("expected ErrTooManySeries, got %v", err)
	}
}

func TestMacKinnonPMonotonic(t *testing.T) {
	prev := -1.0
	for stat := -6.0; stat <= 1.0; stat += 0.25 {
		p, err := MacKinnonP(stat, 2)
		if err != nil {
			t.Fatalf("stat %v: %v", stat, err)
		}
		if p < 0 || p > 1 {
			t.Fatalf("p out of range at %v: %v", stat, p)
		}
		if p+1e-9 < prev {
			t.Fatalf("p decreased at %v: %v < %v", stat, p, prev)
		}
		prev = p
	}
}

func TestMacKinnonPSingleSeriesCritical(t *testing.T) {
	// 5% critical value of the no-constant Dickey-Fuller test is about -1.95
	p, err := MacKinnonP(-1.95, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(p-0.05) > 0.01 {
		t.Fatalf("expected p near 0.05, got %v", p)
	}
}
