package journal

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	open := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	closeT := time.Date(2024, 1, 2, 4, 5, 6, 0, time.UTC)

	var buf bytes.Buffer
	err := WriteCSV(&buf, []TradeRecord{{
		ID:              "T1",
		Symbol:          "BTCUSDT",
		Side:            "SHORT",
		Status:          StatusClosed,
		EntryPrice:      100,
		Quantity:        1.2,
		CapitalSnapshot: 1000,
		Confidence:      0.3,
		SLPrice:         102,
		TPPrice:         96,
		OpenTime:        open,
		ExitPrice:       96,
		ExitTime:        closeT,
		RealizedPnl:     4.8,
		Reason:          ReasonSignal,
	}})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])

	want := []string{
		"T1", "BTCUSDT", "SHORT", "CLOSED",
		"100.000000", "1.200000", "1000.000000", "0.300000",
		"102.000000", "96.000000",
		open.Format(time.RFC3339), "96.000000", closeT.Format(time.RFC3339),
		"4.800000", "signal",
	}
	assert.Equal(t, want, rows[1])
}

func TestExportCSVOpenTradeHasNoExitTime(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, ExportCSV(path, []TradeRecord{{
		ID: "T2", Symbol: "ETHUSDT", Status: StatusOpen, OpenTime: time.Now(),
	}}))

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][12])
}
