package journal

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "symbol", "side", "status", "entry_price", "quantity", "capital_snapshot",
	"confidence", "sl_price", "tp_price", "open_time", "exit_price", "exit_time",
	"realized_pnl", "reason",
}

// WriteCSV writes trades with a header row.
func WriteCSV(w io.Writer, trades []TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			t.ID,
			t.Symbol,
			t.Side,
			string(t.Status),
			f(t.EntryPrice),
			f(t.Quantity),
			f(t.CapitalSnapshot),
			f(t.Confidence),
			f(t.SLPrice),
			f(t.TPPrice),
			ts(t.OpenTime),
			f(t.ExitPrice),
			ts(t.ExitTime),
			f(t.RealizedPnl),
			t.Reason,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes trades to a new file at path.
func ExportCSV(path string, trades []TradeRecord) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(fh, trades); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
