package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/perps/market"
)

// BollingerPctB locates the last close inside the Bollinger bands: 0 at the
// lower band, 1 at the upper band. A flat window reads 0.5.
func BollingerPctB(closes []float64, period int, k float64) (float64, error) {
	if period <= 1 {
		return 0, fmt.Errorf("period must be greater than 1, got %d", period)
	}
	if len(closes) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(closes))
	}

	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(period))

	upper := mean + k*sd
	lower := mean - k*sd
	if upper == lower {
		return 0.5, nil
	}
	return (window[period-1] - lower) / (upper - lower), nil
}

// VWAP is the volume weighted typical price over candles. Without volume it
// falls back to the mean typical price.
func VWAP(candles []market.Candle) (float64, error) {
	if len(candles) == 0 {
		return 0, fmt.Errorf("no candles")
	}
	pv, vol, typ := 0.0, 0.0, 0.0
	for _, c := range candles {
		tp := c.Typical()
		pv += tp * c.Volume
		vol += c.Volume
		typ += tp
	}
	if vol == 0 {
		return typ / float64(len(candles)), nil
	}
	return pv / vol, nil
}

// Slope is the least squares slope of the last period values against their
// index.
func Slope(xs []float64, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("period must be at least 2, got %d", period)
	}
	if len(xs) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(xs))
	}

	ys := xs[len(xs)-period:]
	n := float64(period)
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, nil
	}
	s := (n*sxy - sx*sy) / den
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, nil
	}
	return s, nil
}
