package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE id = ?`, tradeID)

	rec, err := scanTrade(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return TradeRecord{}, fmt.Errorf("trade %q not found", tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListOpen returns every OPEN row, oldest first.
func (j *SQLite) ListOpen() ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status = ?
		ORDER BY open_time ASC`, StatusOpen)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListTradesClosedBetween returns trades whose exit_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status = ? AND exit_time >= ? AND exit_time < ?
		ORDER BY exit_time ASC`, StatusClosed, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Summary aggregates closed trades.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	NetPnl       float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
}

func Summarize(trades []TradeRecord) Summary {
	var s Summary
	for _, t := range trades {
		if t.Status != StatusClosed {
			continue
		}
		s.Trades++
		s.NetPnl += t.RealizedPnl
		switch {
		case t.RealizedPnl > 0:
			s.Wins++
			s.GrossProfit += t.RealizedPnl
		case t.RealizedPnl < 0:
			s.Losses++
			s.GrossLoss -= t.RealizedPnl
		}
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}
