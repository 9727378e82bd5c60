package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/broker/sim"
	"github.com/rustyeddy/perps/config"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/market"
)

func newTestWorker(t *testing.T, cfg Config, e broker.Broker, src *stubSource) (*Worker, *journal.SQLite) {
	t.Helper()
	ledger := newLedger(t)
	w := NewWorker(cfg, e, ledger, src, NewCapitalGuard(), nil)
	w.Init(context.Background())
	return w, ledger
}

func TestWorkerInit(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	w, _ := newTestWorker(t, testConfig(btc), e, newSource(0.5))

	assert.Equal(t, prec, w.Info().Precision)
	assert.Equal(t, 5.0, w.Info().MinNotional)
	assert.Equal(t, 20, e.Leverage(btc))
}

func TestNewConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Trading.InitTries = 3
	cfg.Trading.InitDelay = 250 * time.Millisecond

	c := NewConfig("BTC/USDT", cfg.Exchange, cfg.Trading)
	assert.Equal(t, btc, c.Symbol)
	assert.Equal(t, "USDT", c.QuoteAsset)
	assert.Equal(t, uint(3), c.InitTries)
	assert.Equal(t, 250*time.Millisecond, c.InitDelay)
	assert.Equal(t, cfg.Trading.SettleDelay, c.SettleDelay)
}

func TestWorkerInitFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		symbol string
		fail   bool
	}{
		{"exchange error", btc, true},
		{"unknown symbol", "DOGEUSDT", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newVenue(10000)
			if tt.fail {
				e.Fail(sim.OpSymbolInfo, nil)
				e.Fail(sim.OpLeverage, nil)
			}
			w, _ := newTestWorker(t, testConfig(tt.symbol), e, newSource(0.5))
			assert.Equal(t, market.Fallback(tt.symbol), w.Info())
		})
	}
}

func TestWorkerEntersLongWithProtection(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	w, ledger := newTestWorker(t, testConfig(btc), e, newSource(0.75))

	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionEntered, c.Action)
	assert.NotEmpty(t, c.ID)

	// kelly(0.75, 2) = 0.625, damped to 0.5, capped at 0.12 of 10000
	pos, err := e.Position(context.Background(), btc)
	require.NoError(t, err)
	assert.Equal(t, market.Long, pos.Side)
	assert.InDelta(t, 12.0, pos.Quantity, 1e-9)

	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "LONG", rec.Side)
	assert.Equal(t, 100.0, rec.EntryPrice)
	assert.InDelta(t, 12.0, rec.Quantity, 1e-9)
	assert.Equal(t, 0.75, rec.Confidence)
	assert.Equal(t, 10000.0, rec.CapitalSnapshot)
	assert.InDelta(t, 99.6, rec.SLPrice, 1e-9)
	assert.InDelta(t, 100.8, rec.TPPrice, 1e-9)
	assert.Equal(t, journal.ReasonSignal, rec.Reason)

	require.NotNil(t, c.Integrity)
	assert.True(t, c.Integrity.OK())
	set := protective(e, btc)
	require.True(t, set.Complete())
	assert.InDelta(t, 99.6, set.Stops[0].StopPrice, 1e-9)
	assert.InDelta(t, 100.8, set.Targets[0].StopPrice, 1e-9)

	// the next cycle only maintains
	c, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionMaintained, c.Action)
	assert.Equal(t, 1, e.Placed(btc, broker.Market))
	assert.Len(t, e.Orders(btc), 2)
}

func TestWorkerEntersShort(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	w, ledger := newTestWorker(t, testConfig(btc), e, newSource(0.25))

	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionEntered, c.Action)
	assert.Equal(t, market.Short, c.Position.Side)

	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "SHORT", rec.Side)
	assert.Equal(t, 0.75, rec.Confidence)
	assert.InDelta(t, 100.4, rec.SLPrice, 1e-9)
	assert.InDelta(t, 99.2, rec.TPPrice, 1e-9)

	set := protective(e, btc)
	require.True(t, set.Complete())
	assert.Equal(t, market.Buy, set.Stops[0].Side)
}

func TestWorkerNoTrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    float64
		err  error
	}{
		{"neutral", 0.5, nil},
		{"inside band long", 0.58, nil},
		{"inside band short", 0.42, nil},
		{"signal error", 0.99, errors.New("no model")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newVenue(10000)
			src := &stubSource{p: tt.p, err: tt.err}
			w, ledger := newTestWorker(t, testConfig(btc), e, src)

			c, err := w.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, ActionNone, c.Action)
			if tt.err != nil {
				assert.Equal(t, 0.5, c.Probability)
			}
			assert.Zero(t, e.Placed(btc, broker.Market))

			rec, err := ledger.FindOpen(btc)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestWorkerCapitalShortage(t *testing.T) {
	t.Parallel()

	e := newVenue(50)
	w, _ := newTestWorker(t, testConfig(btc), e, newSource(0.75))

	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionShortage, c.Action)
	assert.Zero(t, e.Placed(btc, broker.Market))
	assert.Empty(t, e.Orders(btc))
}

func TestWorkersShareCapital(t *testing.T) {
	t.Parallel()

	e := newVenue(1000)
	ledger := newLedger(t)
	guard := NewCapitalGuard()

	var wg sync.WaitGroup
	wg.Add(2)

	cfgFor := func(symbol string) Config {
		cfg := testConfig(symbol)
		cfg.Leverage = 1
		cfg.KellyMultiplier = 1
		cfg.MaxCapitalPerTrade = 0.6
		return cfg
	}
	workers := []*Worker{
		NewWorker(cfgFor(btc), &barrierBroker{Broker: e, wg: &wg}, ledger, newSource(0.9), guard, nil),
		NewWorker(cfgFor(eth), &barrierBroker{Broker: e, wg: &wg}, ledger, newSource(0.9), guard, nil),
	}

	cycles := make([]Cycle, len(workers))
	errs := make([]error, len(workers))
	var done sync.WaitGroup
	for i, w := range workers {
		w.Init(context.Background())
		done.Add(1)
		go func() {
			defer done.Done()
			cycles[i], errs[i] = w.RunOnce(context.Background())
		}()
	}
	done.Wait()

	actions := map[Action]int{}
	for i := range workers {
		require.NoError(t, errs[i])
		actions[cycles[i].Action]++
	}
	assert.Equal(t, map[Action]int{ActionEntered: 1, ActionShortage: 1}, actions)

	// 600 of margin committed, never 1200
	bal, err := e.AvailableBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.InDelta(t, 400.0, bal, 1e-6)

	recent, err := ledger.ListRecent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestWorkerSettlesClosedPosition(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	src := newSource(0.75)
	w, ledger := newTestWorker(t, testConfig(btc), e, src)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	require.NotNil(t, rec)

	// stop at 99.6 fires; the target is left behind
	require.NoError(t, e.SetPrice(btc, 99.5))
	assert.Len(t, e.Orders(btc), 1)

	src.Set(0.5)
	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Closed)
	assert.Equal(t, rec.ID, c.Closed.ID)
	assert.InDelta(t, -6.0, c.Closed.RealizedPnl, 1e-9)
	assert.Equal(t, 99.5, c.Closed.ExitPrice)
	assert.Empty(t, e.Orders(btc))

	open, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	assert.Nil(t, open)

	got, err := ledger.GetTrade(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusClosed, got.Status)
	assert.InDelta(t, -6.0, got.RealizedPnl, 1e-9)
	assert.False(t, got.ExitTime.IsZero())
}

func TestWorkerSettleWaitsForFills(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	src := newSource(0.75)
	w, ledger := newTestWorker(t, testConfig(btc), e, src)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.ClosePosition(btc))

	src.Set(0.5)
	e.Fail(sim.OpUserTrades, nil)
	_, err = w.RunOnce(context.Background())
	require.ErrorIs(t, err, sim.ErrInjected)

	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	require.NotNil(t, rec, "row stays OPEN until the fills are known")

	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Closed)
	assert.Equal(t, rec.ID, c.Closed.ID)
}

func TestWorkerSettleRequiresClosingFill(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		keep func(broker.Fill) bool
	}{
		{"empty page", func(broker.Fill) bool { return false }},
		{"entry fill only", func(f broker.Fill) bool { return f.Side == market.Buy }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			e := newVenue(10000)
			venue := &fillFilter{Broker: e, keep: tt.keep}
			src := newSource(0.75)
			w, ledger := newTestWorker(t, testConfig(btc), venue, src)

			_, err := w.RunOnce(ctx)
			require.NoError(t, err)
			require.NoError(t, e.ClosePosition(btc))

			src.Set(0.5)
			c, err := w.RunOnce(ctx)
			require.ErrorIs(t, err, broker.ErrNoData)
			assert.Nil(t, c.Closed)

			rec, err := ledger.FindOpen(btc)
			require.NoError(t, err)
			require.NotNil(t, rec, "row stays OPEN without a closing fill")
			assert.Equal(t, journal.StatusOpen, rec.Status)

			venue.keep = func(broker.Fill) bool { return true }
			c, err = w.RunOnce(ctx)
			require.NoError(t, err)
			require.NotNil(t, c.Closed)
			assert.Equal(t, rec.ID, c.Closed.ID)
			assert.Equal(t, 100.0, c.Closed.ExitPrice)
		})
	}
}

func TestWorkerSettlesLongHeldPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := newVenue(10000)
	e.SetClock(clock.Now)
	src := newSource(0.75)
	w, ledger := newTestWorker(t, testConfig(btc), e, src)
	w.now = clock.Now

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)
	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	require.NotNil(t, rec)

	// the stop fires ten days later, outside the first fill window
	clock.Advance(10 * 24 * time.Hour)
	require.NoError(t, e.SetPrice(btc, 99.5))

	src.Set(0.5)
	c, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, c.Closed)
	assert.Equal(t, rec.ID, c.Closed.ID)
	assert.InDelta(t, -6.0, c.Closed.RealizedPnl, 1e-9)
	assert.Equal(t, 99.5, c.Closed.ExitPrice)
	assert.True(t, clock.Now().Equal(c.Closed.ExitTime))

	open, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestWorkerFillsPagesFullWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{t: t0}
	e := newVenue(100000)
	e.SetClock(clock.Now)
	w := NewWorker(testConfig(btc), e, newLedger(t), newSource(0.5), NewCapitalGuard(), nil)
	w.now = clock.Now

	n := fillLimit + fillLimit/2
	for i := 0; i < n; i++ {
		side := market.Buy
		if i%2 == 1 {
			side = market.Sell
		}
		_, err := e.PlaceOrder(ctx, broker.OrderRequest{Symbol: btc, Side: side, Type: broker.Market, Quantity: 1})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	fills, err := w.fills(ctx, t0)
	require.NoError(t, err)
	require.Len(t, fills, n)
	for i := 1; i < len(fills); i++ {
		assert.Greater(t, fills[i].ID, fills[i-1].ID)
	}
}

func TestWorkerReversal(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	src := newSource(0.75)
	w, ledger := newTestWorker(t, testConfig(btc), e, src)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	src.Set(0.3)
	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionReversed, c.Action)

	pos, err := e.Position(context.Background(), btc)
	require.NoError(t, err)
	assert.False(t, pos.Open())
	assert.Empty(t, e.Orders(btc))

	// the row closes on the following sync
	src.Set(0.5)
	c, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Closed)
	assert.Equal(t, 100.0, c.Closed.ExitPrice)
	assert.InDelta(t, 0.0, c.Closed.RealizedPnl, 1e-9)

	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWorkerHoldsAgainstWeakSignal(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	src := newSource(0.25)
	w, _ := newTestWorker(t, testConfig(btc), e, src)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	// 0.55 leans long but is not beyond the threshold
	src.Set(0.55)
	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionMaintained, c.Action)
	assert.True(t, c.Position.Open())
}

func TestWorkerAdoptsUntrackedPosition(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	require.NoError(t, e.SetLeverage(context.Background(), btc, 20))
	_, err := e.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: btc, Side: market.Sell, Type: broker.Market, Quantity: 2,
	})
	require.NoError(t, err)

	w, ledger := newTestWorker(t, testConfig(btc), e, newSource(0.5))
	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Adopted)
	assert.Equal(t, ActionMaintained, c.Action)

	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, journal.ReasonAdopted, rec.Reason)
	assert.Equal(t, "SHORT", rec.Side)
	assert.Equal(t, 2.0, rec.Quantity)

	set := protective(e, btc)
	require.True(t, set.Complete())
	assert.InDelta(t, 100.4, set.Stops[0].StopPrice, 1e-9)

	// adopted once
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	recent, err := ledger.ListRecent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestWorkerTrailsStop(t *testing.T) {
	t.Parallel()

	cfg := testConfig(btc)
	cfg.TakeProfitPct = 0.02
	e := newVenue(10000)
	w, _ := newTestWorker(t, cfg, e, newSource(0.75))

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.SetPrice(btc, 100.9))
	c, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Trail)
	assert.True(t, c.Trail.Moved)
	assert.InDelta(t, 100.7, c.Trail.Candidate, 1e-9)

	// the target comes back on the next pass
	c, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	set := protective(e, btc)
	require.True(t, set.Complete())
	assert.InDelta(t, 100.7, set.Stops[0].StopPrice, 1e-9)
	assert.InDelta(t, 102.0, set.Targets[0].StopPrice, 1e-9)
	assert.False(t, c.Trail.Moved)
}

func TestWorkerExchangeAnchor(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	_, err := ledger.InsertOpen(journal.TradeRecord{
		Symbol: btc, Side: "LONG", EntryPrice: 90, Quantity: 1, Reason: journal.ReasonSignal,
	})
	require.NoError(t, err)

	e := newVenue(10000)
	_, err = e.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: btc, Side: market.Buy, Type: broker.Market, Quantity: 1,
	})
	require.NoError(t, err)

	tests := []struct {
		anchor string
		stop   float64
	}{
		{config.AnchorLedger, 89.64},
		{config.AnchorExchange, 99.6},
	}
	for _, tt := range tests {
		cfg := testConfig(btc)
		cfg.Anchor = tt.anchor
		w := NewWorker(cfg, e, ledger, newSource(0.5), nil, nil)
		rec, err := ledger.FindOpen(btc)
		require.NoError(t, err)
		pos, err := e.Position(context.Background(), btc)
		require.NoError(t, err)
		assert.Equal(t, tt.stop, prec.RoundPrice(w.anchor(pos, rec)*(1-cfg.StopLossPct)), tt.anchor)
	}
}

func TestWorkerRemoteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   sim.Op
	}{
		{"position", sim.OpPosition},
		{"candles", sim.OpCandles},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newVenue(10000)
			w, _ := newTestWorker(t, testConfig(btc), e, newSource(0.75))
			e.Fail(tt.op, nil)

			_, err := w.RunOnce(context.Background())
			require.ErrorIs(t, err, sim.ErrInjected)
			assert.Zero(t, e.Placed(btc, broker.Market))

			// transient: the next cycle proceeds
			c, err := w.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, ActionEntered, c.Action)
		})
	}
}

func TestWorkerEntryRejected(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	w, ledger := newTestWorker(t, testConfig(btc), e, newSource(0.75))
	e.Fail(sim.OpPlaceOrder, nil)

	_, err := w.RunOnce(context.Background())
	require.ErrorIs(t, err, sim.ErrInjected)

	rec, err := ledger.FindOpen(btc)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWorkerCleansStrayOrdersWhenFlat(t *testing.T) {
	t.Parallel()

	e := newVenue(10000)
	_, err := e.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: btc, Side: market.Sell, Type: broker.StopMarket, StopPrice: 90, ClosePosition: true,
	})
	require.NoError(t, err)

	w, _ := newTestWorker(t, testConfig(btc), e, newSource(0.5))
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, e.Orders(btc))
}
