package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/journal"
	"github.com/rustyeddy/perps/market"
	"github.com/rustyeddy/perps/metrics"
	"github.com/rustyeddy/perps/orders"
)

// fillLimit is the page size of one account trades request.
const fillLimit = 100

// sync reconciles the ledger against the exchange. The exchange is the
// source of truth for whether a position exists; the ledger for how it was
// opened. It returns the live position, the ledger row describing it (nil
// when unknown) and whether stray orders were already purged.
func (w *Worker) sync(ctx context.Context, log *zap.Logger, c *Cycle) (broker.Position, *journal.TradeRecord, bool, error) {
	pos, err := w.b.Position(ctx, w.cfg.Symbol)
	if err != nil {
		metrics.IncRemoteError(w.cfg.Symbol, "position")
		return pos, nil, false, fmt.Errorf("position %s: %w", w.cfg.Symbol, err)
	}

	rec, err := w.ledger.FindOpen(w.cfg.Symbol)
	if err != nil {
		// Without the ledger we cannot tell a tracked position from an
		// untracked one, and an entry could leave two OPEN rows.
		return pos, nil, false, fmt.Errorf("ledger %s: %w", w.cfg.Symbol, err)
	}

	switch {
	case rec != nil && !pos.Open():
		if err := w.settle(ctx, log, rec); err != nil {
			return pos, nil, false, err
		}
		c.Closed = rec
		w.cleanup(ctx, log)
		return pos, nil, true, nil

	case rec == nil && pos.Open():
		adopted, err := w.adopt(pos)
		if err != nil {
			log.Error("adopt position failed", zap.Error(err))
			return pos, nil, false, nil
		}
		c.Adopted = adopted
		log.Warn("adopted untracked position",
			zap.String("trade_id", adopted.ID),
			zap.String("side", adopted.Side),
			zap.Float64("entry", adopted.EntryPrice),
			zap.Float64("qty", adopted.Quantity))
		return pos, adopted, false, nil
	}
	return pos, rec, false, nil
}

// settle closes an OPEN row whose position the exchange no longer holds.
// The row stays OPEN until a fill on the closing side is visible, so the
// next cycle retries when the fills cannot be fetched or lag behind.
func (w *Worker) settle(ctx context.Context, log *zap.Logger, rec *journal.TradeRecord) error {
	fills, err := w.fills(ctx, rec.OpenTime)
	if err != nil {
		return fmt.Errorf("settle %s: %w", rec.ID, err)
	}

	closeSide := market.ParseSide(rec.Side).CloseSide()
	var pnl float64
	var closing *broker.Fill
	for i := range fills {
		f := &fills[i]
		if f.Time.Before(rec.OpenTime) {
			continue
		}
		pnl += f.RealizedPnl
		if f.Side == closeSide {
			closing = f
		}
	}
	if closing == nil {
		return fmt.Errorf("settle %s: no closing fill since %s: %w",
			rec.ID, rec.OpenTime.UTC().Format(time.RFC3339), broker.ErrNoData)
	}

	exitPrice := closing.Price
	exitTime := closing.Time
	if exitTime.IsZero() {
		exitTime = w.now().UTC()
	}

	if err := w.ledger.MarkClosed(rec.ID, exitTime, exitPrice, pnl); err != nil {
		return fmt.Errorf("settle %s: %w", rec.ID, err)
	}
	rec.Status = journal.StatusClosed
	rec.ExitPrice = exitPrice
	rec.ExitTime = exitTime
	rec.RealizedPnl = pnl

	metrics.IncTradeClosed(w.cfg.Symbol, pnl)
	log.Info("trade closed",
		zap.String("trade_id", rec.ID),
		zap.String("side", rec.Side),
		zap.Float64("entry", rec.EntryPrice),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pnl),
		zap.String("result", metrics.TradeResult(pnl)))
	return nil
}

// fills walks the account trades from since to now. One page spans at most
// broker.FillWindow, so a position held for weeks is read window by window,
// and a full page resumes from its last fill.
func (w *Worker) fills(ctx context.Context, since time.Time) ([]broker.Fill, error) {
	var out []broker.Fill
	seen := make(map[int64]bool)
	now := w.now()

	for start := since; !start.After(now); {
		page, err := w.b.UserTrades(ctx, w.cfg.Symbol, start, fillLimit)
		if err != nil {
			metrics.IncRemoteError(w.cfg.Symbol, "user_trades")
			return nil, err
		}

		fresh := 0
		for _, f := range page {
			if f.ID != 0 {
				if seen[f.ID] {
					continue
				}
				seen[f.ID] = true
			}
			out = append(out, f)
			fresh++
		}

		if len(page) >= fillLimit && fresh > 0 && page[len(page)-1].Time.After(start) {
			start = page[len(page)-1].Time
			continue
		}
		start = start.Add(broker.FillWindow)
	}
	return out, nil
}

// adopt records a position opened outside the engine so it gets protected
// and eventually settled like any other.
func (w *Worker) adopt(pos broker.Position) (*journal.TradeRecord, error) {
	lv := orders.ComputeLevels(pos.Side, pos.EntryPrice, w.cfg.StopLossPct, w.cfg.TakeProfitPct, w.info.Precision)
	rec := journal.TradeRecord{
		Symbol:     w.cfg.Symbol,
		Side:       string(pos.Side),
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		SLPrice:    lv.Stop,
		TPPrice:    lv.Target,
		OpenTime:   w.now().UTC(),
		Reason:     journal.ReasonAdopted,
	}
	id, err := w.ledger.InsertOpen(rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.Status = journal.StatusOpen
	metrics.TradesOpened.WithLabelValues(w.cfg.Symbol, string(pos.Side)).Inc()
	return &rec, nil
}
