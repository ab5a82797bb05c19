// Package coint implements the two-step Engle-Granger cointegration test.
//
// The first series is regressed on the others without an intercept. The
// residuals are then checked for a unit root with a Dickey-Fuller regression
// that carries no trend and no lag terms. P-values come from MacKinnon's
// response surfaces.
package coint

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerate is returned when the inputs carry no usable variation.
	ErrDegenerate = errors.New("coint: degenerate input")
	// ErrTooManySeries is returned for systems larger than MaxSeries.
	ErrTooManySeries = errors.New("coint: unsupported number of series")
	// ErrInsufficientData is returned when there are too few observations.
	ErrInsufficientData = errors.New("coint: insufficient observations")
)

const exactFitTol = 1e-24

// Result of an Engle-Granger fit.
type Result struct {
	// Vector is the cointegrating vector [1, -b1, ..., -bk].
	Vector []float64
	// Coefficients are the OLS slopes b1..bk of y on the x columns.
	Coefficients []float64
	// Stat is the Dickey-Fuller t-statistic of the residuals.
	Stat      float64
	PValue    float64
	Residuals []float64
}

// Fitter is the signature shared by EngleGranger and test doubles.
type Fitter func(y []float64, x [][]float64) (Result, error)

// EngleGranger fits y against the columns of x. Every column must have len(y) rows.
func EngleGranger(y []float64, x [][]float64) (Result, error) {
	n, k := len(y), len(x)
	if k == 0 {
		return Result{}, fmt.Errorf("coint: no regressors: %w", ErrInsufficientData)
	}
	if k+1 > MaxSeries {
		return Result{}, fmt.Errorf("coint: %d series: %w", k+1, ErrTooManySeries)
	}
	if n < k+2 || n < 3 {
		return Result{}, fmt.Errorf("coint: %d rows for %d regressors: %w", n, k, ErrInsufficientData)
	}

	X := mat.NewDense(n, k, nil)
	for j, col := range x {
		if len(col) != n {
			return Result{}, fmt.Errorf("coint: column %d has %d rows, want %d", j, len(col), n)
		}
		for i, v := range col {
			X.Set(i, j, v)
		}
	}
	for i := 0; i < n; i++ {
		if !finite(y[i]) {
			return Result{}, fmt.Errorf("coint: non-finite y at %d: %w", i, ErrDegenerate)
		}
		for j := 0; j < k; j++ {
			if !finite(X.At(i, j)) {
				return Result{}, fmt.Errorf("coint: non-finite x[%d] at %d: %w", j, i, ErrDegenerate)
			}
		}
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var b mat.VecDense
	if err := b.SolveVec(X, yv); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return Result{}, fmt.Errorf("coint: ill-conditioned regressors: %w", ErrDegenerate)
		}
		return Result{}, fmt.Errorf("coint: least squares: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &b)
	resid := make([]float64, n)
	var ssy, sse float64
	for i := range resid {
		resid[i] = y[i] - fitted.AtVec(i)
		ssy += y[i] * y[i]
		sse += resid[i] * resid[i]
	}
	// an exact fit leaves only rounding noise in the residuals
	if sse <= exactFitTol*ssy {
		return Result{}, fmt.Errorf("coint: exact linear fit: %w", ErrDegenerate)
	}

	stat, err := dickeyFuller(resid)
	if err != nil {
		return Result{}, err
	}
	p, err := MacKinnonP(stat, k+1)
	if err != nil {
		return Result{}, err
	}

	coefs := make([]float64, k)
	vec := make([]float64, k+1)
	vec[0] = 1
	for j := 0; j < k; j++ {
		coefs[j] = b.AtVec(j)
		vec[j+1] = -coefs[j]
	}
	return Result{
		Vector:       vec,
		Coefficients: coefs,
		Stat:         stat,
		PValue:       p,
		Residuals:    resid,
	}, nil
}

// dickeyFuller returns the t-statistic of gamma in de_t = gamma*e_{t-1} + u_t.
func dickeyFuller(e []float64) (float64, error) {
	m := len(e) - 1
	if m < 2 {
		return 0, ErrInsufficientData
	}
	var sxx, sxy float64
	for t := 1; t <= m; t++ {
		lag, d := e[t-1], e[t]-e[t-1]
		sxx += lag * lag
		sxy += lag * d
	}
	if sxx == 0 {
		return 0, fmt.Errorf("coint: zero residual variance: %w", ErrDegenerate)
	}
	gamma := sxy / sxx

	var ssr float64
	for t := 1; t <= m; t++ {
		u := e[t] - e[t-1] - gamma*e[t-1]
		ssr += u * u
	}
	se := math.Sqrt(ssr / float64(m-1) / sxx)
	if se == 0 {
		if gamma < 0 {
			return math.Inf(-1), nil
		}
		return math.Inf(1), nil
	}
	return gamma / se, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
