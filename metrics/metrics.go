// Package metrics holds the Prometheus collectors for the engine.
//
//   - perps_cycles_total{symbol,result}         worker cycles by outcome
//   - perps_cycle_seconds{symbol}               cycle latency
//   - perps_orders_total{symbol,type}           orders accepted by the exchange
//   - perps_order_book_resets_total{symbol}     protective order purges
//   - perps_trailing_moves_total{symbol}        stop migrations
//   - perps_reversals_total{symbol}             signal reversal exits
//   - perps_trades_opened_total{symbol,side}
//   - perps_trades_closed_total{symbol,result}  win|loss|flat
//   - perps_capital_shortages_total{symbol}
//   - perps_remote_errors_total{symbol,op}
//   - perps_available_balance                   last balance read
//
// Collectors register with the default registry in init() and are served at
// /metrics by the run command.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_cycles_total",
			Help: "Worker cycles by result",
		},
		[]string{"symbol", "result"},
	)

	CycleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perps_cycle_seconds",
			Help:    "Duration of a worker cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"symbol"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_orders_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"symbol", "type"},
	)

	OrderBookResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_order_book_resets_total",
			Help: "Times the protective orders were purged and rebuilt",
		},
		[]string{"symbol"},
	)

	TrailingMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_trailing_moves_total",
			Help: "Trailing stop placements and migrations",
		},
		[]string{"symbol"},
	)

	Reversals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_reversals_total",
			Help: "Positions closed because the signal flipped",
		},
		[]string{"symbol"},
	)

	TradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_trades_opened_total",
			Help: "Trades opened by side",
		},
		[]string{"symbol", "side"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_trades_closed_total",
			Help: "Trades closed by result (win|loss|flat)",
		},
		[]string{"symbol", "result"},
	)

	CapitalShortages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_capital_shortages_total",
			Help: "Entries skipped for lack of capital",
		},
		[]string{"symbol"},
	)

	RemoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perps_remote_errors_total",
			Help: "Failed exchange calls by operation",
		},
		[]string{"symbol", "op"},
	)

	AvailableBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perps_available_balance",
			Help: "Last available balance read from the exchange",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		CycleSeconds,
		Orders,
		OrderBookResets,
		TrailingMoves,
		Reversals,
		TradesOpened,
		TradesClosed,
		CapitalShortages,
		RemoteErrors,
		AvailableBalance,
	)
}

func ObserveCycle(symbol, result string, seconds float64) {
	Cycles.WithLabelValues(symbol, result).Inc()
	CycleSeconds.WithLabelValues(symbol).Observe(seconds)
}

func IncOrder(symbol, orderType string) {
	Orders.WithLabelValues(symbol, orderType).Inc()
}

func IncRemoteError(symbol, op string) {
	RemoteErrors.WithLabelValues(symbol, op).Inc()
}

// TradeResult buckets a realized PnL.
func TradeResult(pnl float64) string {
	switch {
	case pnl > 0:
		return "win"
	case pnl < 0:
		return "loss"
	}
	return "flat"
}

func IncTradeClosed(symbol string, pnl float64) {
	TradesClosed.WithLabelValues(symbol, TradeResult(pnl)).Inc()
}

func SetBalance(v float64) {
	AvailableBalance.Set(v)
}
