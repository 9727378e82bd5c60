package orders

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/metrics"
	"github.com/rustyeddy/perps/risk"
)

type TrailConfig struct {
	Activation float64 // return that arms the trail, e.g. 0.008
	Callback   float64 // distance of the stop behind price
	MinMove    float64 // relative change below which a migration is noise
}

// DefaultMinMove ignores stop changes under 0.2%.
const DefaultMinMove = 0.002

type Trailer struct {
	b   Broker
	cfg TrailConfig
	log *zap.Logger
}

func NewTrailer(b Broker, cfg TrailConfig, log *zap.Logger) *Trailer {
	if cfg.MinMove <= 0 {
		cfg.MinMove = DefaultMinMove
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trailer{b: b, cfg: cfg, log: log}
}

type TrailResult struct {
	Active    bool
	Candidate float64
	Previous  float64 // zero when no stop was resting
	Moved     bool
	Err       error
}

// Candidate returns the stop the trail would ask for at price.
func (t *Trailer) Candidate(side market.PositionSide, price float64, prec market.Precision) float64 {
	return prec.RoundPrice(price * (1 - side.Sign()*t.cfg.Callback))
}

// MaybeTrail migrates the stop toward price once the position is far enough
// in profit. A stop is never moved against the holder.
func (t *Trailer) MaybeTrail(ctx context.Context, symbol string, side market.PositionSide, entry, price float64, prec market.Precision) TrailResult {
	var res TrailResult
	if side == market.None || price <= 0 {
		return res
	}
	if risk.ReturnPct(side, entry, price) <= t.cfg.Activation {
		return res
	}
	res.Active = true
	res.Candidate = t.Candidate(side, price, prec)

	log := t.log.With(zap.String("symbol", symbol), zap.String("side", string(side)))

	open, err := t.b.OpenOrders(ctx, symbol)
	if err != nil {
		metrics.IncRemoteError(symbol, "open_orders")
		log.Error("trailing: open orders unavailable", zap.Error(err))
		res.Err = err
		return res
	}

	current, ok := Classify(open).Stop(side)
	if !ok {
		if err := place(ctx, t.b, stopRequest(symbol, side, res.Candidate)); err != nil {
			log.Error("trailing: stop placement failed", zap.Error(err))
			res.Err = err
			return res
		}
		res.Moved = true
		metrics.TrailingMoves.WithLabelValues(symbol).Inc()
		log.Info("trailing: stop placed", zap.Float64("stop", res.Candidate))
		return res
	}

	res.Previous = current.StopPrice
	if !t.shouldMove(side, current.StopPrice, res.Candidate) {
		return res
	}

	// The target goes with the cancel; the next integrity pass restores it.
	if err := t.b.CancelAllOrders(ctx, symbol); err != nil {
		metrics.IncRemoteError(symbol, "cancel_all")
		log.Error("trailing: cancel failed", zap.Error(err))
		res.Err = err
		return res
	}
	if err := place(ctx, t.b, stopRequest(symbol, side, res.Candidate)); err != nil {
		log.Error("trailing: stop placement failed after cancel", zap.Error(err))
		res.Err = err
		return res
	}
	res.Moved = true
	metrics.TrailingMoves.WithLabelValues(symbol).Inc()
	log.Info("trailing: stop moved",
		zap.Float64("from", current.StopPrice), zap.Float64("to", res.Candidate), zap.Float64("price", price))
	return res
}

// shouldMove requires a change above the noise floor in the holder's favour.
func (t *Trailer) shouldMove(side market.PositionSide, current, candidate float64) bool {
	if current <= 0 {
		return true
	}
	if math.Abs(candidate-current)/current <= t.cfg.MinMove {
		return false
	}
	return side.Sign()*(candidate-current) > 0
}
