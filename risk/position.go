package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/perps/market"
)

// ErrCapitalShortage is returned when the balance cannot fund the smallest
// acceptable order or its margin. It is not fatal: the caller skips the trade.
var ErrCapitalShortage = errors.New("insufficient capital")

// DefaultPayoffRatio is the b in the Kelly formula: a win pays twice the
// loss, matching a take-profit set at twice the stop distance.
const DefaultPayoffRatio = 2.0

type Inputs struct {
	Probability     float64 // confidence in the trade direction, [0,1]
	Balance         float64 // available balance
	Price           float64
	Leverage        int
	PayoffRatio     float64 // zero means DefaultPayoffRatio
	KellyMultiplier float64 // damping k in (0,1]
	MaxFraction     float64 // cap on the balance fraction per trade, e.g. 0.12
	MinNotional     float64
	Precision       market.Precision
}

type Result struct {
	Quantity float64
	Notional float64
	Kelly    float64 // undamped Kelly fraction
	Fraction float64 // fraction actually applied
	Margin   float64
}

// Kelly returns (b·p − (1−p)) / b.
func Kelly(p, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return (b*p - (1 - p)) / b
}

// Size converts a probability into an order quantity. A zero quantity with
// a nil error means the edge does not justify a trade.
func Size(in Inputs) (Result, error) {
	b := in.PayoffRatio
	if b <= 0 {
		b = DefaultPayoffRatio
	}

	var r Result
	r.Kelly = Kelly(in.Probability, b)
	r.Fraction = min(r.Kelly*in.KellyMultiplier, in.MaxFraction)
	if r.Fraction <= 0 || in.Price <= 0 || in.Balance <= 0 {
		r.Fraction = max(r.Fraction, 0)
		return r, nil
	}

	r.Notional = in.Balance * r.Fraction
	if r.Notional < in.MinNotional {
		if in.Balance <= in.MinNotional {
			return Result{Kelly: r.Kelly, Fraction: r.Fraction}, ErrCapitalShortage
		}
		r.Notional = in.MinNotional
	}

	r.Margin = RequiredMargin(r.Notional, in.Leverage)
	if r.Margin > in.Balance {
		return Result{Kelly: r.Kelly, Fraction: r.Fraction, Margin: r.Margin}, ErrCapitalShortage
	}

	// Round away float noise first so 120/100 ceils to 1.2, not 1.201.
	raw, _ := decimal.NewFromFloat(r.Notional).Round(8).
		Div(decimal.NewFromFloat(in.Price)).
		Float64()
	r.Quantity = in.Precision.CeilQuantity(raw)
	return r, nil
}
