// Package sim is an in-memory USDⓈ-M futures venue. It fills market orders
// at the last price, keeps closePosition stop/target orders resting until a
// price update crosses them, and can be told to fail specific calls.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/market"
)

// Op names a Broker call for fault injection.
type Op string

const (
	OpBalance    Op = "balance"
	OpPosition   Op = "position"
	OpOpenOrders Op = "open_orders"
	OpPlaceOrder Op = "place_order"
	OpCancelAll  Op = "cancel_all"
	OpUserTrades Op = "user_trades"
	OpCandles    Op = "candles"
	OpSymbolInfo Op = "symbol_info"
	OpLeverage   Op = "leverage"
)

// ErrInjected is returned by calls failed through Fail.
var ErrInjected = errors.New("sim: injected failure")

type book struct {
	info     market.SymbolInfo
	price    float64
	candles  []market.Candle
	amt      float64 // signed position amount
	entry    float64
	leverage int
	orders   []broker.Order
	fills    []broker.Fill
	placed   map[broker.OrderType]int
}

type Engine struct {
	mu      sync.Mutex
	asset   string
	wallet  float64
	books   map[string]*book
	nextID  int64
	faults  map[Op][]error
	now     func() time.Time
	onClose func(symbol, reason string, pnl float64)
}

var _ broker.Broker = (*Engine)(nil)

// NewEngine creates a venue whose wallet holds balance units of asset.
func NewEngine(asset string, balance float64) *Engine {
	return &Engine{
		asset:  asset,
		wallet: balance,
		books:  make(map[string]*book),
		faults: make(map[Op][]error),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for fills and candles.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// OnClose registers a callback for positions closed by a resting order.
// It runs after the engine lock is released.
func (e *Engine) OnClose(fn func(symbol, reason string, pnl float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = fn
}

// AddSymbol lists a symbol at an initial price.
func (e *Engine) AddSymbol(info market.SymbolInfo, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := &book{
		info:     info,
		price:    price,
		leverage: 1,
		placed:   make(map[broker.OrderType]int),
	}
	b.candles = append(b.candles, market.Candle{
		Open: price, High: price, Low: price, Close: price, Time: e.now(),
	})
	e.books[info.Symbol] = b
}

// SetCandles replaces the kline history served for symbol.
func (e *Engine) SetCandles(symbol string, candles []market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[symbol]
	if !ok {
		return
	}
	b.candles = append([]market.Candle(nil), candles...)
	if n := len(candles); n > 0 {
		b.price = candles[n-1].Close
	}
}

// Fail makes the next call of op return err (ErrInjected when nil).
// Repeated calls queue several failures.
func (e *Engine) Fail(op Op, err error) {
	if err == nil {
		err = ErrInjected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], err)
}

func (e *Engine) faultLocked(op Op) error {
	q := e.faults[op]
	if len(q) == 0 {
		return nil
	}
	e.faults[op] = q[1:]
	return q[0]
}

func (e *Engine) bookLocked(symbol string) (*book, error) {
	b, ok := e.books[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: unknown symbol %s: %w", symbol, broker.ErrNoData)
	}
	return b, nil
}

// SetPrice moves the market and fires any resting stop or target the new
// price crosses.
func (e *Engine) SetPrice(symbol string, price float64) error {
	e.mu.Lock()

	b, err := e.bookLocked(symbol)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	prev := b.price
	b.price = price
	b.candles = append(b.candles, market.Candle{
		Open:   prev,
		High:   math.Max(prev, price),
		Low:    math.Min(prev, price),
		Close:  price,
		Volume: 1,
		Time:   e.now(),
	})

	type closed struct {
		reason string
		pnl    float64
	}
	var fired []closed

	remaining := b.orders[:0]
	for _, o := range b.orders {
		if !triggered(o, price) {
			remaining = append(remaining, o)
			continue
		}
		if b.amt == 0 {
			continue
		}
		if market.SideFromAmount(b.amt).CloseSide() != o.Side {
			remaining = append(remaining, o)
			continue
		}
		qty := math.Abs(b.amt)
		if !o.ClosePosition && o.OrigQty < qty {
			qty = o.OrigQty
		}
		pnl := e.reduceLocked(b, o.Side, qty, price)
		fired = append(fired, closed{reason: string(o.Type), pnl: pnl})
	}
	b.orders = remaining

	cb := e.onClose
	e.mu.Unlock()

	if cb != nil {
		for _, f := range fired {
			cb(symbol, f.reason, f.pnl)
		}
	}
	return nil
}

func triggered(o broker.Order, price float64) bool {
	switch o.Type {
	case broker.StopMarket:
		if o.Side == market.Sell {
			return price <= o.StopPrice
		}
		return price >= o.StopPrice
	case broker.TakeProfitMarket:
		if o.Side == market.Sell {
			return price >= o.StopPrice
		}
		return price <= o.StopPrice
	}
	return false
}

// ClosePosition flattens symbol at the current price, as a user acting on
// the exchange directly would.
func (e *Engine) ClosePosition(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.bookLocked(symbol)
	if err != nil {
		return err
	}
	if b.amt == 0 {
		return nil
	}
	side := market.SideFromAmount(b.amt).CloseSide()
	e.reduceLocked(b, side, math.Abs(b.amt), b.price)
	return nil
}

// Placed counts orders of type t accepted for symbol.
func (e *Engine) Placed(symbol string, t broker.OrderType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[symbol]; ok {
		return b.placed[t]
	}
	return 0
}

// Orders returns a copy of the resting orders for symbol.
func (e *Engine) Orders(symbol string) []broker.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[symbol]; ok {
		return append([]broker.Order(nil), b.orders...)
	}
	return nil
}

// Wallet returns the wallet balance including realized PnL.
func (e *Engine) Wallet() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet
}

// Leverage returns the leverage configured for symbol.
func (e *Engine) Leverage(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[symbol]; ok {
		return b.leverage
	}
	return 0
}

func (e *Engine) availableLocked() float64 {
	avail := e.wallet
	for _, b := range e.books {
		if b.amt == 0 {
			continue
		}
		avail -= math.Abs(b.amt) * b.entry / float64(b.leverage)
		avail += b.amt * (b.price - b.entry)
	}
	return avail
}

// increaseLocked adds to (or opens) a position in the direction of side.
func (e *Engine) increaseLocked(b *book, side market.OrderSide, qty, price float64) {
	signed := qty
	if side == market.Sell {
		signed = -qty
	}
	total := math.Abs(b.amt) + qty
	b.entry = (math.Abs(b.amt)*b.entry + qty*price) / total
	b.amt += signed
	e.nextID++
	b.fills = append(b.fills, broker.Fill{
		ID: e.nextID, Symbol: b.info.Symbol, Side: side, Price: price, Quantity: qty, Time: e.now(),
	})
}

// reduceLocked closes up to qty of the position and books realized PnL.
func (e *Engine) reduceLocked(b *book, side market.OrderSide, qty, price float64) float64 {
	qty = math.Min(qty, math.Abs(b.amt))
	dir := market.SideFromAmount(b.amt).Sign()
	pnl := dir * (price - b.entry) * qty

	e.wallet += pnl
	b.amt -= dir * qty
	if math.Abs(b.amt) < 1e-12 {
		b.amt = 0
		b.entry = 0
	}
	e.nextID++
	b.fills = append(b.fills, broker.Fill{
		ID: e.nextID, Symbol: b.info.Symbol, Side: side, Price: price, Quantity: qty, RealizedPnl: pnl, Time: e.now(),
	})
	return pnl
}

// ---- broker.Broker ----

func (e *Engine) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpBalance); err != nil {
		return 0, err
	}
	if asset != e.asset {
		return 0, fmt.Errorf("sim: asset %s: %w", asset, broker.ErrNoData)
	}
	return e.availableLocked(), nil
}

func (e *Engine) Position(ctx context.Context, symbol string) (broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpPosition); err != nil {
		return broker.Position{}, err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return broker.Position{}, err
	}
	return broker.Position{
		Symbol:     symbol,
		Side:       market.SideFromAmount(b.amt),
		Quantity:   math.Abs(b.amt),
		EntryPrice: b.entry,
	}, nil
}

func (e *Engine) OpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpOpenOrders); err != nil {
		return nil, err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return nil, err
	}
	return append([]broker.Order{}, b.orders...), nil
}

func (e *Engine) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	if err := req.Validate(); err != nil {
		return broker.OrderAck{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpPlaceOrder); err != nil {
		return broker.OrderAck{}, err
	}
	b, err := e.bookLocked(req.Symbol)
	if err != nil {
		return broker.OrderAck{}, err
	}

	e.nextID++
	orderID := e.nextID

	if req.Type != broker.Market {
		b.orders = append(b.orders, broker.Order{
			ID:            orderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Type:          req.Type,
			Side:          req.Side,
			StopPrice:     req.StopPrice,
			OrigQty:       req.Quantity,
			ClosePosition: req.ClosePosition,
			ReduceOnly:    req.ReduceOnly || req.ClosePosition,
		})
		b.placed[req.Type]++
		return broker.OrderAck{OrderID: orderID, ClientOrderID: req.ClientOrderID, Status: "NEW"}, nil
	}

	price := b.price
	current := market.SideFromAmount(b.amt)
	reducing := current != market.None && current.CloseSide() == req.Side

	if req.ReduceOnly && !reducing {
		return broker.OrderAck{}, &broker.APIError{Status: 400, Code: -2022, Msg: "ReduceOnly Order is rejected."}
	}

	qty := req.Quantity
	if reducing {
		closeQty := math.Min(qty, math.Abs(b.amt))
		e.reduceLocked(b, req.Side, closeQty, price)
		qty -= closeQty
		if req.ReduceOnly {
			qty = 0
		}
	}
	if qty > 0 {
		margin := qty * price / float64(b.leverage)
		if margin > e.availableLocked() {
			return broker.OrderAck{}, &broker.APIError{Status: 400, Code: -2019, Msg: "Margin is insufficient."}
		}
		e.increaseLocked(b, req.Side, qty, price)
	}
	b.placed[broker.Market]++

	return broker.OrderAck{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Status:        "FILLED",
		AvgPrice:      price,
		ExecutedQty:   req.Quantity,
	}, nil
}

func (e *Engine) CancelAllOrders(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpCancelAll); err != nil {
		return err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return err
	}
	b.orders = nil
	return nil
}

func (e *Engine) UserTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]broker.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpUserTrades); err != nil {
		return nil, err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return nil, err
	}

	var out []broker.Fill
	end := since.Add(broker.FillWindow)
	for _, f := range b.fills {
		if !since.IsZero() && (f.Time.Before(since) || !f.Time.Before(end)) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		if since.IsZero() {
			out = out[len(out)-limit:]
		} else {
			out = out[:limit]
		}
	}
	return out, nil
}

func (e *Engine) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpCandles); err != nil {
		return nil, err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return nil, err
	}
	candles := b.candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]market.Candle(nil), candles...), nil
}

func (e *Engine) SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpSymbolInfo); err != nil {
		return market.SymbolInfo{}, err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return market.SymbolInfo{}, err
	}
	return b.info, nil
}

func (e *Engine) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpLeverage); err != nil {
		return err
	}
	b, err := e.bookLocked(symbol)
	if err != nil {
		return err
	}
	if leverage < 1 {
		return &broker.APIError{Status: 400, Code: -4028, Msg: "Leverage is not valid."}
	}
	b.leverage = leverage
	return nil
}
