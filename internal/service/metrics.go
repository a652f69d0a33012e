package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	quotesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_quotes_issued_total",
			Help: "Quotes computed, by pool and outcome",
		},
		[]string{"pool", "status"},
	)

	quoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dex_quote_duration_seconds",
			Help:    "Time to compute a quote, including the pool read",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2},
		},
	)

	poolReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_pool_reads_total",
			Help: "Chain reads of pool state, by pool and result",
		},
		[]string{"pool", "result"},
	)

	signingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dex_signing_duration_seconds",
			Help:    "Time spent inside the vault signing a transaction",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)

	tradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_trades_total",
			Help: "Trades by direction and final outcome",
		},
		[]string{"direction", "outcome"},
	)

	tradeConfirmationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dex_trade_confirmation_duration_seconds",
			Help:    "Time from broadcast to a terminal state",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	reconciledOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_reconciled_orders_total",
			Help: "Orders touched by the reconciler, by action",
		},
		[]string{"action"},
	)
)
