// Package orders keeps the protective stop and target of an open position
// in shape: exactly one of each, closing the whole position, with the stop
// only ever moving in the holder's favour.
package orders

import (
	"context"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/market"
)

// Broker is the slice of the exchange the protective order logic needs.
type Broker interface {
	OpenOrders(ctx context.Context, symbol string) ([]broker.Order, error)
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// ProtectiveSet is the open orders of a symbol split by role.
type ProtectiveSet struct {
	Stops   []broker.Order
	Targets []broker.Order
	Other   []broker.Order
}

func Classify(orders []broker.Order) ProtectiveSet {
	var s ProtectiveSet
	for _, o := range orders {
		switch o.Type {
		case broker.StopMarket:
			s.Stops = append(s.Stops, o)
		case broker.TakeProfitMarket:
			s.Targets = append(s.Targets, o)
		default:
			s.Other = append(s.Other, o)
		}
	}
	return s
}

// Corrupted reports a book that cannot be repaired by adding orders.
func (s ProtectiveSet) Corrupted() bool {
	return len(s.Stops) > 1 || len(s.Targets) > 1 || len(s.Stops)+len(s.Targets) > 2
}

// Complete reports exactly one stop and one target.
func (s ProtectiveSet) Complete() bool {
	return len(s.Stops) == 1 && len(s.Targets) == 1
}

// Stop returns the most protective resting stop for side.
func (s ProtectiveSet) Stop(side market.PositionSide) (broker.Order, bool) {
	if len(s.Stops) == 0 {
		return broker.Order{}, false
	}
	best := s.Stops[0]
	for _, o := range s.Stops[1:] {
		if side.Sign()*(o.StopPrice-best.StopPrice) > 0 {
			best = o
		}
	}
	return best, true
}

// Levels are the protective prices for a position.
type Levels struct {
	Stop   float64
	Target float64
}

// ComputeLevels places the stop stopPct against the position and the target
// takePct in its favour, both rounded to the price tick.
func ComputeLevels(side market.PositionSide, anchor, stopPct, takePct float64, prec market.Precision) Levels {
	sign := side.Sign()
	return Levels{
		Stop:   prec.RoundPrice(anchor * (1 - sign*stopPct)),
		Target: prec.RoundPrice(anchor * (1 + sign*takePct)),
	}
}

func stopRequest(symbol string, side market.PositionSide, price float64) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:        symbol,
		Side:          side.CloseSide(),
		Type:          broker.StopMarket,
		StopPrice:     price,
		ClosePosition: true,
	}
}

func targetRequest(symbol string, side market.PositionSide, price float64) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:        symbol,
		Side:          side.CloseSide(),
		Type:          broker.TakeProfitMarket,
		StopPrice:     price,
		ClosePosition: true,
	}
}
