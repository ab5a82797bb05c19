package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopairs_signals_emitted_total",
			Help: "Pair signals emitted by the spread estimator.",
		},
		[]string{"pair", "direction"},
	)

	SpreadZScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gopairs_spread_zscore",
			Help: "Latest spread z-score per pair.",
		},
		[]string{"pair"},
	)

	BarsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopairs_pair_updates_skipped_total",
			Help: "Pair updates skipped (missing leg, zero price).",
		},
		[]string{"reason"},
	)

	Allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopairs_allocations_total",
			Help: "Allocation solver runs by outcome.",
		},
		[]string{"outcome"},
	)

	TargetWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gopairs_target_weight",
			Help: "Last target weight per instrument.",
		},
		[]string{"instrument"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopairs_orders_submitted_total",
			Help: "Total number of orders submitted (by strategy and side).",
		},
		[]string{"strategy", "side"},
	)

	ActiveInsights = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gopairs_active_insights",
			Help: "Number of unexpired signals held by the engine.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gopairs_equity",
			Help: "Current equity of the executor (paper or live).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsEmitted, SpreadZScore, BarsSkipped,
		Allocations, TargetWeight, OrdersSubmitted,
		ActiveInsights, EquityGauge,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
