package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the proportional fee charged on every fill (0.1%).
var DefaultFeeRate = decimal.RequireFromString("0.001")

var hundred = decimal.NewFromInt(100)

// Fee returns price × quantity × rate.
func Fee(price, quantity, rate decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Mul(rate)
}

// ParseDecimal parses a decimal from its string form, naming the field in the
// returned validation error.
func ParseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Invalid(fmt.Sprintf("%s must be a decimal number", field))
	}
	return d, nil
}

// PercentBelow returns base × (1 − pct/100).
func PercentBelow(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
}

// PercentAbove returns base × (1 + pct/100).
func PercentAbove(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

// Rate returns part/whole × 100, or zero when whole is zero.
func Rate(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
