package orders

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/metrics"
)

type IntegrityConfig struct {
	StopLossPct   float64
	TakeProfitPct float64
	// SettleDelay is waited after a purge so the exchange reflects the
	// cancellation before new orders arrive.
	SettleDelay time.Duration
}

// Manager restores exactly one stop and one target for an open position.
type Manager struct {
	b     Broker
	cfg   IntegrityConfig
	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(b Broker, cfg IntegrityConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{b: b, cfg: cfg, log: log, sleep: sleepCtx}
}

// Report describes what a reconcile pass did. Errs holds every failed call;
// they are reported, never returned, since the next pass retries anyway.
type Report struct {
	Levels       Levels
	Stops        int
	Targets      int
	Reset        bool
	PlacedStop   bool
	PlacedTarget bool
	Errs         []error
}

func (r Report) OK() bool { return len(r.Errs) == 0 }

// Reconcile is idempotent: with a healthy book it only reads.
func (m *Manager) Reconcile(ctx context.Context, symbol string, side market.PositionSide, anchor float64, prec market.Precision) Report {
	var rep Report
	if side == market.None || anchor <= 0 {
		rep.Errs = append(rep.Errs, fmt.Errorf("reconcile %s: no position to protect", symbol))
		return rep
	}
	log := m.log.With(zap.String("symbol", symbol), zap.String("side", string(side)))

	open, err := m.b.OpenOrders(ctx, symbol)
	if err != nil {
		// Never place without knowing what is already resting.
		metrics.IncRemoteError(symbol, "open_orders")
		log.Error("integrity: open orders unavailable", zap.Error(err))
		rep.Errs = append(rep.Errs, err)
		return rep
	}

	set := Classify(open)
	rep.Stops, rep.Targets = len(set.Stops), len(set.Targets)

	if set.Complete() {
		rep.Levels = ComputeLevels(side, anchor, m.cfg.StopLossPct, m.cfg.TakeProfitPct, prec)
		return rep
	}

	if set.Corrupted() {
		log.Warn("integrity: corrupted protective orders, resetting",
			zap.Int("stops", rep.Stops), zap.Int("targets", rep.Targets))
		if err := m.b.CancelAllOrders(ctx, symbol); err != nil {
			metrics.IncRemoteError(symbol, "cancel_all")
			log.Error("integrity: cancel all failed", zap.Error(err))
			rep.Errs = append(rep.Errs, err)
			return rep
		}
		metrics.OrderBookResets.WithLabelValues(symbol).Inc()
		rep.Reset = true
		rep.Stops, rep.Targets = 0, 0
		if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
			rep.Errs = append(rep.Errs, err)
			return rep
		}
	}

	rep.Levels = ComputeLevels(side, anchor, m.cfg.StopLossPct, m.cfg.TakeProfitPct, prec)

	if rep.Stops == 0 {
		if err := m.place(ctx, stopRequest(symbol, side, rep.Levels.Stop)); err != nil {
			log.Error("integrity: stop placement failed", zap.Float64("stop", rep.Levels.Stop), zap.Error(err))
			rep.Errs = append(rep.Errs, err)
		} else {
			rep.PlacedStop = true
			log.Info("integrity: stop placed", zap.Float64("stop", rep.Levels.Stop))
		}
	}
	if rep.Targets == 0 {
		if err := m.place(ctx, targetRequest(symbol, side, rep.Levels.Target)); err != nil {
			log.Error("integrity: target placement failed", zap.Float64("target", rep.Levels.Target), zap.Error(err))
			rep.Errs = append(rep.Errs, err)
		} else {
			rep.PlacedTarget = true
			log.Info("integrity: target placed", zap.Float64("target", rep.Levels.Target))
		}
	}
	return rep
}

func (m *Manager) place(ctx context.Context, req broker.OrderRequest) error {
	return place(ctx, m.b, req)
}

// place treats an acknowledgement without an order id as a failure.
func place(ctx context.Context, b Broker, req broker.OrderRequest) error {
	ack, err := b.PlaceOrder(ctx, req)
	if err != nil {
		metrics.IncRemoteError(req.Symbol, "place_order")
		return fmt.Errorf("place %s %s: %w", req.Symbol, req.Type, err)
	}
	if ack.OrderID == 0 {
		return fmt.Errorf("place %s %s: %w", req.Symbol, req.Type, broker.ErrNoData)
	}
	metrics.IncOrder(req.Symbol, string(req.Type))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
