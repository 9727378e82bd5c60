package risk

import (
	"math"

	"github.com/rustyeddy/perps/market"
)

// RequiredMargin is the initial margin for a notional at the given leverage.
// Leverage below one is treated as unlevered.
func RequiredMargin(notional float64, leverage int) float64 {
	if leverage < 1 {
		leverage = 1
	}
	return notional / float64(leverage)
}

// ReturnPct is the unrealized return of a position, positive when the
// price has moved in the holder's favour.
func ReturnPct(side market.PositionSide, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return side.Sign() * (price - entry) / entry
}

// RR is the reward to risk ratio of a bracket.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}
