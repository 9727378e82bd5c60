package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/metrics"
	"github.com/rustyeddy/perps/orders"
	"github.com/rustyeddy/perps/pkg/id"
	"github.com/rustyeddy/perps/risk"
)

// direction maps a long probability to the side worth entering, or None.
func (w *Worker) direction(p float64) (market.PositionSide, float64) {
	thr := w.cfg.ConfidenceThreshold
	switch {
	case p > thr:
		return market.Long, p
	case p < 1-thr:
		return market.Short, 1 - p
	}
	return market.None, 0
}

func (w *Worker) enter(ctx context.Context, log *zap.Logger, c *Cycle) error {
	side, conf := w.direction(c.Probability)
	if side == market.None {
		return nil
	}

	balance, err := w.balance(ctx)
	if err != nil {
		return fmt.Errorf("entry %s: balance: %w", w.cfg.Symbol, err)
	}

	size, err := risk.Size(risk.Inputs{
		Probability:     conf,
		Balance:         balance,
		Price:           c.Price,
		Leverage:        w.cfg.Leverage,
		PayoffRatio:     w.cfg.PayoffRatio,
		KellyMultiplier: w.cfg.KellyMultiplier,
		MaxFraction:     w.cfg.MaxCapitalPerTrade,
		MinNotional:     max(w.cfg.MinNotional, w.info.MinNotional),
		Precision:       w.info.Precision,
	})
	if errors.Is(err, risk.ErrCapitalShortage) {
		w.shortage(log, c, balance, size.Margin)
		return nil
	}
	if err != nil {
		return fmt.Errorf("entry %s: size: %w", w.cfg.Symbol, err)
	}
	if size.Quantity <= 0 {
		log.Debug("no edge", zap.Float64("probability", c.Probability), zap.Float64("kelly", size.Kelly))
		return nil
	}

	var rec journal.TradeRecord
	err = w.guard.Commit(ctx, size.Margin, w.balance, func(ctx context.Context, fresh float64) error {
		ack, err := w.b.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:        w.cfg.Symbol,
			Side:          side.EntrySide(),
			Type:          broker.Market,
			Quantity:      size.Quantity,
			ClientOrderID: id.ClientOrderID("perps"),
		})
		if err == nil && ack.OrderID == 0 {
			err = broker.ErrNoData
		}
		if err != nil {
			metrics.IncRemoteError(w.cfg.Symbol, "place_order")
			return err
		}
		metrics.IncOrder(w.cfg.Symbol, string(broker.Market))

		entry := ack.AvgPrice
		if entry <= 0 {
			entry = c.Price
		}
		qty := size.Quantity
		if ack.ExecutedQty > 0 {
			qty = ack.ExecutedQty
		}
		lv := orders.ComputeLevels(side, entry, w.cfg.StopLossPct, w.cfg.TakeProfitPct, w.info.Precision)
		rec = journal.TradeRecord{
			Symbol:          w.cfg.Symbol,
			Side:            string(side),
			EntryPrice:      entry,
			Quantity:        qty,
			CapitalSnapshot: fresh,
			Confidence:      conf,
			SLPrice:         lv.Stop,
			TPPrice:         lv.Target,
			OpenTime:        w.now().UTC(),
			Reason:          journal.ReasonSignal,
		}
		rid, err := w.ledger.InsertOpen(rec)
		if err != nil {
			// The position exists; the next sync adopts it.
			log.Error("record entry failed", zap.Error(err))
			return nil
		}
		rec.ID = rid
		rec.Status = journal.StatusOpen
		return nil
	})
	if errors.Is(err, ErrCapitalShortage) {
		w.shortage(log, c, balance, size.Margin)
		return nil
	}
	if err != nil {
		return fmt.Errorf("entry %s: %w", w.cfg.Symbol, err)
	}

	metrics.TradesOpened.WithLabelValues(w.cfg.Symbol, string(side)).Inc()
	c.Action = ActionEntered
	if rec.ID != "" {
		c.Opened = &rec
	}
	log.Info("position opened",
		zap.String("trade_id", rec.ID),
		zap.String("side", string(side)),
		zap.Float64("qty", rec.Quantity),
		zap.Float64("entry", rec.EntryPrice),
		zap.Float64("confidence", conf),
		zap.Float64("fraction", size.Fraction),
		zap.Float64("margin", size.Margin),
		zap.Float64("rr", risk.RR(rec.EntryPrice, rec.SLPrice, rec.TPPrice)))

	rep := w.integrity.Reconcile(ctx, w.cfg.Symbol, side, rec.EntryPrice, w.info.Precision)
	c.Integrity = &rep
	c.Position = broker.Position{Symbol: w.cfg.Symbol, Side: side, Quantity: rec.Quantity, EntryPrice: rec.EntryPrice}
	return nil
}

func (w *Worker) balance(ctx context.Context) (float64, error) {
	b, err := w.b.AvailableBalance(ctx, w.cfg.QuoteAsset)
	if err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "balance")
		return 0, err
	}
	metrics.SetBalance(b)
	return b, nil
}

func (w *Worker) shortage(log *zap.Logger, c *Cycle, balance, margin float64) {
	metrics.CapitalShortages.WithLabelValues(w.cfg.Symbol).Inc()
	c.Action = ActionShortage
	log.Warn("capital shortage, entry skipped",
		zap.Float64("balance", balance),
		zap.Float64("margin", margin))
}
