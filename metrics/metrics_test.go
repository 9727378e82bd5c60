package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTradeResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "win", TradeResult(1.5))
	assert.Equal(t, "loss", TradeResult(-0.1))
	assert.Equal(t, "flat", TradeResult(0))
}

func TestHelpersUpdateCollectors(t *testing.T) {
	IncOrder("METRICSUSDT", "STOP_MARKET")
	IncOrder("METRICSUSDT", "STOP_MARKET")
	assert.Equal(t, 2.0, testutil.ToFloat64(Orders.WithLabelValues("METRICSUSDT", "STOP_MARKET")))

	IncTradeClosed("METRICSUSDT", -3)
	assert.Equal(t, 1.0, testutil.ToFloat64(TradesClosed.WithLabelValues("METRICSUSDT", "loss")))

	ObserveCycle("METRICSUSDT", "ok", 0.2)
	assert.Equal(t, 1.0, testutil.ToFloat64(Cycles.WithLabelValues("METRICSUSDT", "ok")))

	SetBalance(1234.5)
	assert.Equal(t, 1234.5, testutil.ToFloat64(AvailableBalance))
}
