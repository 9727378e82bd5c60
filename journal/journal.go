// Package journal is the trade ledger: one row per opened position, updated
// in place when the position closes.
package journal

import "time"

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Reasons recorded on a trade row.
const (
	ReasonSignal  = "signal"
	ReasonAdopted = "adopted"
)

// TradeRecord is one opened position.
type TradeRecord struct {
	ID              string
	Symbol          string
	Side            string
	EntryPrice      float64
	Quantity        float64
	CapitalSnapshot float64
	Confidence      float64
	SLPrice         float64
	TPPrice         float64
	Status          Status
	OpenTime        time.Time
	ExitPrice       float64
	ExitTime        time.Time
	RealizedPnl     float64
	Reason          string
}

// Ledger is the narrow contract the symbol workers rely on. Rows are only
// ever appended or updated.
type Ledger interface {
	// InsertOpen stores rec as OPEN and returns its id.
	InsertOpen(rec TradeRecord) (string, error)
	// FindOpen returns the OPEN row for symbol, or nil when there is none.
	FindOpen(symbol string) (*TradeRecord, error)
	// MarkClosed transitions an OPEN row to CLOSED.
	MarkClosed(id string, exitTime time.Time, exitPrice, realizedPnl float64) error
	// ListRecent returns the newest rows first.
	ListRecent(limit int) ([]TradeRecord, error)
	Close() error
}
