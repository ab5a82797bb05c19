package risk

import (
	"github.com/shopspring/decimal"

	"github.com/evdnx/gopairs/config"
)

// RoundQty floors qty to a multiple of step (when step > 0), truncates it to
// precision decimals and returns 0 below minQty. The sign of qty is kept.
func RoundQty(qty, step float64, precision int, minQty float64) float64 {
	d := decimal.NewFromFloat(qty)
	neg := d.IsNegative()
	d = d.Abs()
	if step > 0 {
		s := decimal.NewFromFloat(step)
		d = d.Div(s).Floor().Mul(s)
	}
	d = d.Truncate(int32(precision))
	if d.LessThan(decimal.NewFromFloat(minQty)) {
		return 0
	}
	if neg {
		d = d.Neg()
	}
	f, _ := d.Float64()
	return f
}

// TargetQty converts a portfolio weight into a signed share quantity.
func TargetQty(equity, weight, price float64, cfg config.Risk) float64 {
	if price <= 0 {
		return 0
	}
	return RoundQty(equity*weight/price, cfg.StepSize, cfg.QuantityPrecision, cfg.MinQty)
}
