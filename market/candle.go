package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) kline data
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Time   time.Time
}

// Typical returns (high + low + close) / 3.
func (c Candle) Typical() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Closes extracts the close series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the most recent close, or 0 when there is no data.
func Last(candles []Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}
