package coint

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// MacKinnon (1994) response-surface coefficients for the unit-root test
// without constant or trend, indexed by number of series - 1.
var (
	tauMaxNC  = [6]float64{math.Inf(1), 1.51, 0.86, 0.88, 1.05, 1.24}
	tauMinNC  = [6]float64{-19.04, -19.62, -21.21, -23.25, -21.63, -25.74}
	tauStarNC = [6]float64{-1.04, -1.53, -2.68, -3.09, -3.07, -3.77}

	tauSmallPNC = [6][3]float64{
		{0.6344, 1.2378, 3.2496e-2},
		{1.9129, 1.3857, 3.5322e-2},
		{2.7648, 1.4502, 3.4186e-2},
		{3.4336, 1.4835, 3.19e-2},
		{4.0999, 1.5533, 3.59e-2},
		{4.5388, 1.5344, 2.9807e-2},
	}

	tauLargePNC = [6][4]float64{
		{0.4797, 9.3557e-1, -0.6999e-1, 3.3066e-2},
		{1.5578, 8.558e-1, -2.083e-1, -3.3549e-2},
		{2.2268, 6.8093e-1, -3.2362e-1, -5.4448e-2},
		{2.7654, 6.4502e-1, -3.0811e-1, -4.4946e-2},
		{3.2684, 6.8051e-1, -2.6778e-1, -3.4972e-2},
		{3.7268, 7.1670e-1, -2.3648e-1, -2.8288e-2},
	}
)

// MaxSeries is the largest system MacKinnonP has coefficients for.
const MaxSeries = 6

// MacKinnonP returns the approximate p-value of a unit-root t-statistic for a
// system of n series (1..MaxSeries), no constant, no trend.
func MacKinnonP(stat float64, n int) (float64, error) {
	if n < 1 || n > MaxSeries {
		return 0, ErrTooManySeries
	}
	i := n - 1
	switch {
	case math.IsNaN(stat):
		return math.NaN(), ErrDegenerate
	case math.IsInf(stat, 1) || stat > tauMaxNC[i]:
		return 1, nil
	case stat < tauMinNC[i]:
		return 0, nil
	}
	var x float64
	if stat <= tauStarNC[i] {
		x = polyval(tauSmallPNC[i][:], stat)
	} else {
		x = polyval(tauLargePNC[i][:], stat)
	}
	return distuv.UnitNormal.CDF(x), nil
}

// polyval evaluates c[0] + c[1]*x + c[2]*x^2 + ...
func polyval(c []float64, x float64) float64 {
	v := 0.0
	for j := len(c) - 1; j >= 0; j-- {
		v = v*x + c[j]
	}
	return v
}
