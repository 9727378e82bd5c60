package bot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/broker/sim"
	"github.com/rustyeddy/perps/config"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/orders"
)

const (
	btc = "BTCUSDT"
	eth = "ETHUSDT"
)

var prec = market.Precision{Quantity: 3, Price: 2}

func testConfig(symbol string) Config {
	return Config{
		Symbol:              symbol,
		QuoteAsset:          "USDT",
		Leverage:            20,
		KlineInterval:       "5m",
		KlineLimit:          50,
		ConfidenceThreshold: 0.6,
		KellyMultiplier:     0.8,
		PayoffRatio:         2,
		MaxCapitalPerTrade:  0.12,
		MinNotional:         110,
		StopLossPct:         0.004,
		TakeProfitPct:       0.008,
		Trail: orders.TrailConfig{
			Activation: 0.005,
			Callback:   0.002,
			MinMove:    0.002,
		},
		Anchor:    config.AnchorLedger,
		InitTries: 1,
	}
}

func newVenue(balance float64) *sim.Engine {
	e := sim.NewEngine("USDT", balance)
	e.AddSymbol(market.SymbolInfo{Symbol: btc, Precision: prec, MinNotional: 5}, 100)
	e.AddSymbol(market.SymbolInfo{Symbol: eth, Precision: prec, MinNotional: 5}, 50)
	return e
}

func newLedger(t *testing.T) *journal.SQLite {
	t.Helper()
	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// stubSource returns a settable probability.
type stubSource struct {
	mu  sync.Mutex
	p   float64
	err error
}

func newSource(p float64) *stubSource { return &stubSource{p: p} }

func (s *stubSource) Set(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

func (s *stubSource) Score(ctx context.Context, candles []market.Candle) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, s.err
}

// barrierBroker holds every worker's first balance read until all of them
// have read, so they size against the same stale balance.
type barrierBroker struct {
	broker.Broker
	wg   *sync.WaitGroup
	once sync.Once
}

func (b *barrierBroker) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	v, err := b.Broker.AvailableBalance(ctx, asset)
	b.once.Do(func() {
		b.wg.Done()
		b.wg.Wait()
	})
	return v, err
}

// fillFilter hides account trades the venue has not reported yet.
type fillFilter struct {
	broker.Broker
	keep func(broker.Fill) bool
}

func (f *fillFilter) UserTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]broker.Fill, error) {
	fills, err := f.Broker.UserTrades(ctx, symbol, since, limit)
	if err != nil {
		return nil, err
	}
	out := []broker.Fill{}
	for _, x := range fills {
		if f.keep(x) {
			out = append(out, x)
		}
	}
	return out, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func protective(e *sim.Engine, symbol string) orders.ProtectiveSet {
	return orders.Classify(e.Orders(symbol))
}
