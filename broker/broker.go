package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/perps/market"
)

// ErrNoData reports a response that parsed but did not carry what the caller
// needs: an empty body, a missing order id, an unknown symbol.
var ErrNoData = errors.New("no data")

// Broker is the futures account surface the engine drives. Implementations
// must be safe for concurrent use by several symbol workers.
type Broker interface {
	AvailableBalance(ctx context.Context, asset string) (float64, error)
	Position(ctx context.Context, symbol string) (Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	// UserTrades returns one page of fills, oldest first: the first limit
	// fills at or after since and before since+FillWindow. A zero since
	// returns the most recent limit fills.
	UserTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]Fill, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Position is derived from exchange state every cycle and never cached.
type Position struct {
	Symbol     string
	Side       market.PositionSide
	Quantity   float64
	EntryPrice float64
}

// Open reports whether the exchange holds a non-zero position.
func (p Position) Open() bool {
	return p.Side != market.None && p.Quantity > 0
}

type OrderType string

const (
	Market           OrderType = "MARKET"
	StopMarket       OrderType = "STOP_MARKET"
	TakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// Order is an open order as reported by the exchange.
type Order struct {
	ID            int64
	ClientOrderID string
	Symbol        string
	Type          OrderType
	Side          market.OrderSide
	StopPrice     float64
	Price         float64
	OrigQty       float64
	ClosePosition bool
	ReduceOnly    bool
}

// OrderRequest describes a new order. Protective orders set StopPrice and
// ClosePosition and leave Quantity at zero.
type OrderRequest struct {
	Symbol        string
	Side          market.OrderSide
	Type          OrderType
	Quantity      float64
	StopPrice     float64
	ClosePosition bool
	ReduceOnly    bool
	ClientOrderID string
}

// Validate rejects requests that the exchange would refuse anyway.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order: symbol is required")
	}
	if r.Side != market.Buy && r.Side != market.Sell {
		return fmt.Errorf("order: invalid side %q", r.Side)
	}
	switch r.Type {
	case Market:
		if r.Quantity <= 0 {
			return fmt.Errorf("order: market order needs a positive quantity")
		}
	case StopMarket, TakeProfitMarket:
		if r.StopPrice <= 0 {
			return fmt.Errorf("order: %s needs a positive stop price", r.Type)
		}
		if !r.ClosePosition && r.Quantity <= 0 {
			return fmt.Errorf("order: %s needs closePosition or a quantity", r.Type)
		}
	default:
		return fmt.Errorf("order: unsupported type %q", r.Type)
	}
	return nil
}

// OrderAck is the exchange's answer to a new order. AvgPrice and
// ExecutedQty are only filled for market orders.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// FillWindow is the widest time range one UserTrades page may span.
const FillWindow = 7 * 24 * time.Hour

// Fill is one account trade (userTrades).
type Fill struct {
	ID          int64
	Symbol      string
	Side        market.OrderSide
	Price       float64
	Quantity    float64
	RealizedPnl float64
	Time        time.Time
}

// APIError is an exchange rejection.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error (status %d, code %d): %s", e.Status, e.Code, e.Msg)
}
