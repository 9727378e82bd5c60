// Package signal turns a kline series into a probability that price moves
// up.
package signal

import (
	"context"
	"errors"

	"github.com/rustyeddy/perps/market"
)

// Neutral is used whenever no opinion can be formed. It never sizes a trade.
const Neutral = 0.5

var ErrInsufficientData = errors.New("signal: not enough candles")

// Source scores a series. Implementations return a value in [0,1].
type Source interface {
	Score(ctx context.Context, candles []market.Candle) (float64, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, candles []market.Candle) (float64, error)

func (f Func) Score(ctx context.Context, candles []market.Candle) (float64, error) {
	return f(ctx, candles)
}

// Clamp bounds p to [0,1].
func Clamp(p float64) float64 {
	return max(0, min(1, p))
}
