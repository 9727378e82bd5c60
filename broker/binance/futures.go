package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/pkg/id"
	"github.com/shopspring/decimal"
)

// AvailableBalance returns the available (not wallet) balance of asset.
func (c *Client) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}

	var rows []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("balance: decode: %w", err)
	}

	for _, r := range rows {
		if r.Asset != asset {
			continue
		}
		v, err := parseFloat(r.AvailableBalance)
		if err != nil {
			return 0, fmt.Errorf("balance: parse %q: %w", r.AvailableBalance, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("balance: asset %s: %w", asset, broker.ErrNoData)
}

// Position returns the symbol's one-way position, flat when none is held.
func (c *Client) Position(ctx context.Context, symbol string) (broker.Position, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", q, true)
	if err != nil {
		return broker.Position{}, fmt.Errorf("position %s: %w", symbol, err)
	}

	var rows []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return broker.Position{}, fmt.Errorf("position %s: decode: %w", symbol, err)
	}

	for _, r := range rows {
		if r.Symbol != "" && r.Symbol != symbol {
			continue
		}
		amt, err := parseFloat(r.PositionAmt)
		if err != nil {
			return broker.Position{}, fmt.Errorf("position %s: parse amount: %w", symbol, err)
		}
		if amt == 0 {
			continue
		}
		entry, err := parseFloat(r.EntryPrice)
		if err != nil {
			return broker.Position{}, fmt.Errorf("position %s: parse entry: %w", symbol, err)
		}
		qty := amt
		if qty < 0 {
			qty = -qty
		}
		return broker.Position{
			Symbol:     symbol,
			Side:       market.SideFromAmount(amt),
			Quantity:   qty,
			EntryPrice: entry,
		}, nil
	}
	return broker.Position{Symbol: symbol, Side: market.None}, nil
}

type apiOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ClosePosition bool   `json:"closePosition"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// OpenOrders lists every open order for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/openOrders", q, true)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	var raw []apiOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("open orders %s: decode: %w", symbol, err)
	}

	out := make([]broker.Order, 0, len(raw))
	for _, o := range raw {
		stop, err := parseFloat(o.StopPrice)
		if err != nil {
			return nil, fmt.Errorf("open orders %s: parse stop price: %w", symbol, err)
		}
		price, err := parseFloat(o.Price)
		if err != nil {
			return nil, fmt.Errorf("open orders %s: parse price: %w", symbol, err)
		}
		qty, err := parseFloat(o.OrigQty)
		if err != nil {
			return nil, fmt.Errorf("open orders %s: parse qty: %w", symbol, err)
		}
		out = append(out, broker.Order{
			ID:            o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Type:          broker.OrderType(o.Type),
			Side:          market.OrderSide(o.Side),
			StopPrice:     stop,
			Price:         price,
			OrigQty:       qty,
			ClosePosition: o.ClosePosition,
			ReduceOnly:    o.ReduceOnly,
		})
	}
	return out, nil
}

// PlaceOrder submits a new order. An ack without an order id is reported as
// broker.ErrNoData so callers never mistake it for success.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	if err := req.Validate(); err != nil {
		return broker.OrderAck{}, err
	}

	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("side", string(req.Side))
	q.Set("type", string(req.Type))

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = id.ClientOrderID("perps")
	}
	q.Set("newClientOrderId", clientID)

	if req.Type == broker.Market {
		q.Set("newOrderRespType", "RESULT")
	}
	if req.StopPrice > 0 {
		q.Set("stopPrice", formatDecimal(req.StopPrice))
	}
	if req.ClosePosition {
		q.Set("closePosition", "true")
	} else {
		q.Set("quantity", formatDecimal(req.Quantity))
	}
	if req.ReduceOnly && !req.ClosePosition {
		q.Set("reduceOnly", "true")
	}

	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", q, true)
	if err != nil {
		return broker.OrderAck{}, fmt.Errorf("place %s %s %s: %w", req.Type, req.Side, req.Symbol, err)
	}

	var raw struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		AvgPrice      string `json:"avgPrice"`
		ExecutedQty   string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return broker.OrderAck{}, fmt.Errorf("place %s %s: decode: %w", req.Type, req.Symbol, err)
	}
	if raw.OrderID == 0 {
		return broker.OrderAck{}, fmt.Errorf("place %s %s: missing order id: %w", req.Type, req.Symbol, broker.ErrNoData)
	}

	// Partially populated acks are still acks; bad numbers just read as zero.
	avg, _ := parseFloat(raw.AvgPrice)
	executed, _ := parseFloat(raw.ExecutedQty)

	return broker.OrderAck{
		OrderID:       raw.OrderID,
		ClientOrderID: raw.ClientOrderID,
		Status:        raw.Status,
		AvgPrice:      avg,
		ExecutedQty:   executed,
	}, nil
}

// CancelAllOrders cancels every open order for symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	q := url.Values{}
	q.Set("symbol", symbol)

	if _, err := c.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", q, true); err != nil {
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}
	return nil
}

// UserTrades returns account fills for symbol, oldest first. The endpoint
// rejects ranges wider than seven days, so a non-zero since is bounded by
// broker.FillWindow. A zero since returns the most recent fills.
func (c *Client) UserTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]broker.Fill, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(since.Add(broker.FillWindow).UnixMilli()-1, 10))
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/userTrades", q, true)
	if err != nil {
		return nil, fmt.Errorf("user trades %s: %w", symbol, err)
	}

	var raw []struct {
		ID          int64  `json:"id"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		RealizedPnl string `json:"realizedPnl"`
		Time        int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("user trades %s: decode: %w", symbol, err)
	}

	out := make([]broker.Fill, 0, len(raw))
	for _, r := range raw {
		price, err := parseFloat(r.Price)
		if err != nil {
			return nil, fmt.Errorf("user trades %s: parse price: %w", symbol, err)
		}
		qty, err := parseFloat(r.Qty)
		if err != nil {
			return nil, fmt.Errorf("user trades %s: parse qty: %w", symbol, err)
		}
		pnl, err := parseFloat(r.RealizedPnl)
		if err != nil {
			return nil, fmt.Errorf("user trades %s: parse pnl: %w", symbol, err)
		}
		out = append(out, broker.Fill{
			ID:          r.ID,
			Symbol:      r.Symbol,
			Side:        market.OrderSide(r.Side),
			Price:       price,
			Quantity:    qty,
			RealizedPnl: pnl,
			Time:        time.UnixMilli(r.Time).UTC(),
		})
	}
	return out, nil
}

// Candles fetches klines. The endpoint is public and unsigned.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", q, false)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("klines %s: decode: %w", symbol, err)
	}

	candles := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("klines %s: row %d has %d fields", symbol, i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("klines %s: row %d open time: %w", symbol, i, err)
		}
		var ohlcv [5]float64
		for j := 0; j < 5; j++ {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("klines %s: row %d field %d: %w", symbol, i, j+1, err)
			}
			v, err := parseFloat(s)
			if err != nil {
				return nil, fmt.Errorf("klines %s: row %d field %d: %w", symbol, i, j+1, err)
			}
			ohlcv[j] = v
		}
		candles = append(candles, market.Candle{
			Open:   ohlcv[0],
			High:   ohlcv[1],
			Low:    ohlcv[2],
			Close:  ohlcv[3],
			Volume: ohlcv[4],
			Time:   time.UnixMilli(openTime).UTC(),
		})
	}
	return candles, nil
}

// SymbolInfo returns precision and minimum notional for symbol. The full
// exchangeInfo document is fetched once and cached.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	c.mu.RLock()
	loaded := len(c.symbols) > 0
	info, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}
	if loaded {
		return market.SymbolInfo{}, fmt.Errorf("symbol info %s: %w", symbol, broker.ErrNoData)
	}

	if err := c.loadExchangeInfo(ctx); err != nil {
		return market.SymbolInfo{}, err
	}

	c.mu.RLock()
	info, ok = c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return market.SymbolInfo{}, fmt.Errorf("symbol info %s: %w", symbol, broker.ErrNoData)
	}
	return info, nil
}

func (c *Client) loadExchangeInfo(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	var resp struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("exchange info: decode: %w", err)
	}
	if len(resp.Symbols) == 0 {
		return fmt.Errorf("exchange info: %w", broker.ErrNoData)
	}

	symbols := make(map[string]market.SymbolInfo, len(resp.Symbols))
	for _, s := range resp.Symbols {
		info := market.SymbolInfo{
			Symbol: s.Symbol,
			Precision: market.Precision{
				Quantity: s.QuantityPrecision,
				Price:    s.PricePrecision,
			},
		}
		for _, f := range s.Filters {
			if f.FilterType == "MIN_NOTIONAL" {
				info.MinNotional, _ = parseFloat(f.Notional)
			}
		}
		symbols[s.Symbol] = info
	}

	c.mu.Lock()
	c.symbols = symbols
	c.mu.Unlock()
	return nil
}

// SetLeverage sets the initial leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("leverage", strconv.Itoa(leverage))

	if _, err := c.do(ctx, http.MethodPost, "/fapi/v1/leverage", q, true); err != nil {
		return fmt.Errorf("leverage %s: %w", symbol, err)
	}
	return nil
}

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}
