// Package bot runs one reconciliation loop per symbol and keeps the loops
// alive.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/config"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/metrics"
	"github.com/rustyeddy/perps/orders"
	"github.com/rustyeddy/perps/signal"
)

// Config is everything one symbol worker needs to know.
type Config struct {
	Symbol        string
	QuoteAsset    string
	Leverage      int
	KlineInterval string
	KlineLimit    int

	ConfidenceThreshold float64
	KellyMultiplier     float64
	PayoffRatio         float64
	MaxCapitalPerTrade  float64
	MinNotional         float64

	StopLossPct   float64
	TakeProfitPct float64
	Trail         orders.TrailConfig
	Anchor        string
	SettleDelay   time.Duration

	// InitTries and InitDelay bound the symbol metadata lookup at start.
	InitTries uint
	InitDelay time.Duration
}

// NewConfig derives a worker configuration from the process configuration.
func NewConfig(symbol string, ex config.ExchangeConfig, t config.TradingConfig) Config {
	return Config{
		Symbol:              market.ExchangeSymbol(symbol),
		QuoteAsset:          ex.QuoteAsset,
		Leverage:            t.Leverage,
		KlineInterval:       t.KlineInterval,
		KlineLimit:          t.KlineLimit,
		ConfidenceThreshold: t.ConfidenceThreshold,
		KellyMultiplier:     t.KellyMultiplier,
		PayoffRatio:         t.PayoffRatio,
		MaxCapitalPerTrade:  t.MaxCapitalPerTrade,
		MinNotional:         t.MinNotional,
		StopLossPct:         t.StopLossPct,
		TakeProfitPct:       t.TakeProfitPct,
		Trail: orders.TrailConfig{
			Activation: t.TrailingActivation,
			Callback:   t.TrailingCallback,
			MinMove:    t.TrailingMinMove,
		},
		Anchor:      t.ProtectiveAnchor,
		SettleDelay: t.SettleDelay,
		InitTries:   t.InitTries,
		InitDelay:   t.InitDelay,
	}
}

// Action is what a cycle ended up doing.
type Action string

const (
	ActionNone       Action = "none"
	ActionMaintained Action = "maintained"
	ActionReversed   Action = "reversed"
	ActionEntered    Action = "entered"
	ActionShortage   Action = "capital_shortage"
)

// Cycle reports one pass of the state machine.
type Cycle struct {
	ID          string
	Position    broker.Position
	Price       float64
	Probability float64
	Action      Action
	Closed      *journal.TradeRecord
	Adopted     *journal.TradeRecord
	Opened      *journal.TradeRecord
	Integrity   *orders.Report
	Trail       *orders.TrailResult
}

// Worker owns one symbol. It keeps no state between cycles beyond the
// symbol metadata: every cycle re-derives the position from the exchange
// and the ledger.
type Worker struct {
	cfg    Config
	b      broker.Broker
	ledger journal.Ledger
	src    signal.Source
	guard  *CapitalGuard
	log    *zap.Logger
	now    func() time.Time

	integrity *orders.Manager
	trailer   *orders.Trailer

	info   market.SymbolInfo
	inited bool
}

func NewWorker(cfg Config, b broker.Broker, ledger journal.Ledger, src signal.Source, guard *CapitalGuard, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if guard == nil {
		guard = NewCapitalGuard()
	}
	if cfg.InitTries == 0 {
		cfg.InitTries = 1
	}
	log = log.Named("worker").With(zap.String("symbol", cfg.Symbol))

	return &Worker{
		cfg:    cfg,
		b:      b,
		ledger: ledger,
		src:    src,
		guard:  guard,
		log:    log,
		now:    time.Now,
		integrity: orders.NewManager(b, orders.IntegrityConfig{
			StopLossPct:   cfg.StopLossPct,
			TakeProfitPct: cfg.TakeProfitPct,
			SettleDelay:   cfg.SettleDelay,
		}, log),
		trailer: orders.NewTrailer(b, cfg.Trail, log),
		info:    market.Fallback(cfg.Symbol),
	}
}

func (w *Worker) Symbol() string { return w.cfg.Symbol }

// Info returns the symbol metadata in use.
func (w *Worker) Info() market.SymbolInfo { return w.info }

// Init resolves symbol metadata and sets leverage. Failures fall back to
// conservative precision; they never stop the worker.
func (w *Worker) Init(ctx context.Context) {
	if w.inited {
		return
	}
	w.inited = true

	bo := backoff.NewExponentialBackOff()
	if w.cfg.InitDelay > 0 {
		bo.InitialInterval = w.cfg.InitDelay
	}
	info, err := backoff.Retry(ctx, func() (market.SymbolInfo, error) {
		info, err := w.b.SymbolInfo(ctx, w.cfg.Symbol)
		if errors.Is(err, broker.ErrNoData) {
			return info, backoff.Permanent(err)
		}
		return info, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(w.cfg.InitTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			w.log.Warn("symbol info retry", zap.Error(err), zap.Duration("backoff", d))
		}),
	)
	if err != nil {
		w.info = market.Fallback(w.cfg.Symbol)
		w.log.Warn("symbol info unavailable, using fallback precision",
			zap.Int("qty_precision", w.info.Precision.Quantity),
			zap.Int("price_precision", w.info.Precision.Price),
			zap.Error(err))
	} else {
		w.info = info
		w.log.Info("symbol info loaded",
			zap.Int("qty_precision", info.Precision.Quantity),
			zap.Int("price_precision", info.Precision.Price),
			zap.Float64("min_notional", info.MinNotional))
	}

	if w.cfg.Leverage > 0 {
		if err := w.b.SetLeverage(ctx, w.cfg.Symbol, w.cfg.Leverage); err != nil {
			metrics.IncRemoteError(w.cfg.Symbol, "leverage")
			w.log.Warn("set leverage failed", zap.Int("leverage", w.cfg.Leverage), zap.Error(err))
		}
	}
}

// RunOnce executes Sync, Observe, Score, then Reversal and Maintain for an
// open position or Cleanup and Entry when flat. An error means the cycle
// was abandoned and should be retried after a delay.
func (w *Worker) RunOnce(ctx context.Context) (Cycle, error) {
	if !w.inited {
		w.Init(ctx)
	}

	c := Cycle{ID: uuid.NewString(), Action: ActionNone, Probability: signal.Neutral}
	log := w.log.With(zap.String("cycle_id", c.ID))

	// Sync
	pos, rec, cleaned, err := w.sync(ctx, log, &c)
	if err != nil {
		return c, err
	}
	c.Position = pos

	// Observe
	candles, err := w.b.Candles(ctx, w.cfg.Symbol, w.cfg.KlineInterval, w.cfg.KlineLimit)
	if err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "candles")
		return c, fmt.Errorf("observe %s: %w", w.cfg.Symbol, err)
	}
	c.Price = market.Last(candles)
	if c.Price <= 0 {
		return c, fmt.Errorf("observe %s: %w", w.cfg.Symbol, broker.ErrNoData)
	}

	// Score
	p, err := w.src.Score(ctx, candles)
	if err != nil {
		log.Warn("signal unavailable, using neutral", zap.Error(err))
		p = signal.Neutral
	}
	c.Probability = signal.Clamp(p)

	if pos.Open() {
		if w.reversed(pos.Side, c.Probability) {
			return c, w.reverse(ctx, log, &c, pos)
		}
		w.maintain(ctx, &c, pos, rec)
		return c, nil
	}

	if !cleaned {
		w.cleanup(ctx, log)
	}
	return c, w.enter(ctx, log, &c)
}

// reversed reports a signal that strongly contradicts the held side.
func (w *Worker) reversed(side market.PositionSide, p float64) bool {
	thr := w.cfg.ConfidenceThreshold
	switch side {
	case market.Long:
		return p < 1-thr
	case market.Short:
		return p > thr
	}
	return false
}

func (w *Worker) reverse(ctx context.Context, log *zap.Logger, c *Cycle, pos broker.Position) error {
	log.Info("signal reversal, closing position",
		zap.String("side", string(pos.Side)), zap.Float64("probability", c.Probability))

	if err := w.b.CancelAllOrders(ctx, w.cfg.Symbol); err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "cancel_all")
		log.Error("reversal: cancel failed", zap.Error(err))
	}

	ack, err := w.b.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     w.cfg.Symbol,
		Side:       pos.Side.CloseSide(),
		Type:       broker.Market,
		Quantity:   w.info.Precision.RoundQuantity(pos.Quantity),
		ReduceOnly: true,
	})
	if err == nil && ack.OrderID == 0 {
		err = broker.ErrNoData
	}
	if err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "place_order")
		return fmt.Errorf("reversal close %s: %w", w.cfg.Symbol, err)
	}

	metrics.IncOrder(w.cfg.Symbol, string(broker.Market))
	metrics.Reversals.WithLabelValues(w.cfg.Symbol).Inc()
	c.Action = ActionReversed
	// The ledger row is closed by the next cycle's sync once the exchange
	// reports the position flat and the fills are available.
	return nil
}

func (w *Worker) maintain(ctx context.Context, c *Cycle, pos broker.Position, rec *journal.TradeRecord) {
	anchor := w.anchor(pos, rec)
	prec := w.info.Precision

	rep := w.integrity.Reconcile(ctx, w.cfg.Symbol, pos.Side, anchor, prec)
	c.Integrity = &rep

	tr := w.trailer.MaybeTrail(ctx, w.cfg.Symbol, pos.Side, anchor, c.Price, prec)
	c.Trail = &tr

	c.Action = ActionMaintained
}

// anchor picks the entry price protective levels are computed from.
func (w *Worker) anchor(pos broker.Position, rec *journal.TradeRecord) float64 {
	if w.cfg.Anchor == config.AnchorExchange || rec == nil || rec.EntryPrice <= 0 {
		return pos.EntryPrice
	}
	if market.ParseSide(rec.Side) != pos.Side {
		return pos.EntryPrice
	}
	return rec.EntryPrice
}

func (w *Worker) cleanup(ctx context.Context, log *zap.Logger) {
	open, err := w.b.OpenOrders(ctx, w.cfg.Symbol)
	if err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "open_orders")
		log.Error("cleanup: open orders unavailable", zap.Error(err))
		return
	}
	if len(open) == 0 {
		return
	}
	if err := w.b.CancelAllOrders(ctx, w.cfg.Symbol); err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "cancel_all")
		log.Error("cleanup: cancel failed", zap.Error(err))
		return
	}
	log.Info("cleanup: stray orders cancelled", zap.Int("count", len(open)))
}
