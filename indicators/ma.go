package indicators

import (
	"fmt"
	"strconv"

	"github.com/rustyeddy/perps/market"
)

// EMASeries returns the EMA of xs for every index from period-1 on, seeded
// with the SMA of the first period values.
func EMASeries(xs []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(xs) < period {
		return nil, fmt.Errorf("not enough values: need %d, got %d", period, len(xs))
	}

	k := 2.0 / float64(period+1)

	ema := 0.0
	for _, x := range xs[:period] {
		ema += x
	}
	ema /= float64(period)

	out := make([]float64, 0, len(xs)-period+1)
	out = append(out, ema)
	for _, x := range xs[period:] {
		ema += (x - ema) * k
		out = append(out, ema)
	}
	return out, nil
}

// ExponentialMA is the streaming form of EMASeries over closes.
type ExponentialMA struct {
	period int
	k      float64
	n      int
	value  float64 // running sum until the seed, the EMA after
}

func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{period: period, k: 2.0 / float64(period+1)}
}

func (e *ExponentialMA) Name() string { return "EMA(" + strconv.Itoa(e.period) + ")" }

func (e *ExponentialMA) Warmup() int { return e.period }

func (e *ExponentialMA) Reset() {
	e.n, e.value = 0, 0
}

func (e *ExponentialMA) Update(c market.Candle) {
	e.n++
	switch {
	case e.n < e.period:
		e.value += c.Close
	case e.n == e.period:
		e.value = (e.value + c.Close) / float64(e.period)
	default:
		e.value += (c.Close - e.value) * e.k
	}
}

func (e *ExponentialMA) Ready() bool { return e.period > 0 && e.n >= e.period }

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}
