// Package metrics exposes the system's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/histogram/gauge this module emits, so it can
// be constructed once and threaded through the components that touch it.
type Registry struct {
	reg *prometheus.Registry

	BarsAggregatedTotal        *prometheus.CounterVec
	PositionsOpen              prometheus.Gauge
	TrailingAdjustmentsTotal   *prometheus.CounterVec
	JournalWriteDurationSecond *prometheus.HistogramVec
	AggregatorErrorsTotal      *prometheus.CounterVec
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		BarsAggregatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bars_aggregated_total",
			Help: "Completed aggregated bars, by symbol and timeframe.",
		}, []string{"symbol", "timeframe"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "positions_open",
			Help: "Number of currently open positions.",
		}),
		TrailingAdjustmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trailing_adjustments_total",
			Help: "Accepted trailing stop adjustments, by symbol.",
		}, []string{"symbol"}),
		JournalWriteDurationSecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "journal_write_duration_seconds",
			Help:    "Duration of journal write operations, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		AggregatorErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_errors_total",
			Help: "Errors returned by Aggregator.AddBar, by symbol and kind.",
		}, []string{"symbol", "kind"}),
	}

	reg.MustRegister(
		r.BarsAggregatedTotal,
		r.PositionsOpen,
		r.TrailingAdjustmentsTotal,
		r.JournalWriteDurationSecond,
		r.AggregatorErrorsTotal,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Registry for the HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
