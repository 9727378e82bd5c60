package market

import (
	"github.com/shopspring/decimal"
)

// Precision holds the number of decimals an instrument accepts for quantity
// and price. Zero means integer-only.
type Precision struct {
	Quantity int
	Price    int
}

// CeilQuantity rounds a quantity up to the quantity precision. Rounding up
// keeps the order at or above the notional it was sized for.
func (p Precision) CeilQuantity(q float64) float64 {
	if q <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(q).RoundCeil(int32(p.Quantity)).Float64()
	return f
}

// RoundQuantity rounds a quantity to the nearest step.
func (p Precision) RoundQuantity(q float64) float64 {
	f, _ := decimal.NewFromFloat(q).Round(int32(p.Quantity)).Float64()
	return f
}

// RoundPrice rounds a price to the nearest tick.
func (p Precision) RoundPrice(px float64) float64 {
	f, _ := decimal.NewFromFloat(px).Round(int32(p.Price)).Float64()
	return f
}
