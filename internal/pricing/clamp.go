package pricing

import "github.com/shopspring/decimal"

// SafetyConfig bounds automated price changes.
type SafetyConfig struct {
	MinPrice         *decimal.Decimal
	MaxPrice         *decimal.Decimal
	MaxChangePercent *decimal.Decimal
}

// Clamp applies the safety bounds to a candidate price, in fixed order:
// floor at MinPrice, ceiling at MaxPrice, then cap the total delta from
// currentPrice at MaxChangePercent of currentPrice, symmetrically.
//
// The percent cap measures against the original currentPrice, not the value
// produced by the absolute bounds, so the result can land back outside
// MinPrice/MaxPrice. This ordering is intentional and must not be reordered.
func (c SafetyConfig) Clamp(currentPrice, candidate decimal.Decimal) decimal.Decimal {
	out := candidate

	if c.MinPrice != nil && out.LessThan(*c.MinPrice) {
		out = *c.MinPrice
	}
	if c.MaxPrice != nil && out.GreaterThan(*c.MaxPrice) {
		out = *c.MaxPrice
	}

	if c.MaxChangePercent != nil && currentPrice.IsPositive() {
		limit := currentPrice.Mul(*c.MaxChangePercent).Div(decimal.NewFromInt(100))
		delta := out.Sub(currentPrice)
		if delta.Abs().GreaterThan(limit) {
			if delta.IsNegative() {
				out = currentPrice.Sub(limit)
			} else {
				out = currentPrice.Add(limit)
			}
		}
	}

	return out
}
