// Package monitor exposes the engine's Prometheus metrics.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine loop metrics
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smartcfd_cycles_total",
			Help: "Total number of completed engine cycles",
		},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartcfd_cycle_duration_seconds",
			Help:    "Distribution of engine cycle durations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Trading metrics
	tradesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcfd_trades_submitted_total",
			Help: "Total number of entry orders submitted",
		},
		[]string{"symbol", "side"},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcfd_orders_rejected_total",
			Help: "Total number of order submissions rejected by the broker",
		},
		[]string{"symbol"},
	)

	signalConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartcfd_signal_confidence",
			Help: "Confidence of the latest strategy signal",
		},
		[]string{"symbol", "strategy"},
	)

	// Risk metrics
	haltState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartcfd_halt_state",
			Help: "1 while trading is halted, 0 otherwise",
		},
	)

	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartcfd_account_equity",
			Help: "Latest reconciled account equity",
		},
	)

	totalExposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartcfd_total_exposure",
			Help: "Sum of absolute position market values",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartcfd_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(tradesSubmitted)
	prometheus.MustRegister(ordersRejected)
	prometheus.MustRegister(signalConfidence)
	prometheus.MustRegister(haltState)
	prometheus.MustRegister(accountEquity)
	prometheus.MustRegister(totalExposure)
	prometheus.MustRegister(errorsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records a completed engine cycle and its duration.
func RecordCycle(d time.Duration) {
	cyclesTotal.Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordTrade counts a submitted entry order.
func RecordTrade(symbol, side string) {
	tradesSubmitted.WithLabelValues(symbol, side).Inc()
}

// RecordRejection counts a broker-rejected submission.
func RecordRejection(symbol string) {
	ordersRejected.WithLabelValues(symbol).Inc()
}

// SetSignalConfidence publishes the latest signal confidence.
func SetSignalConfidence(symbol, strategy string, confidence float64) {
	signalConfidence.WithLabelValues(symbol, strategy).Set(confidence)
}

// SetHalted publishes the halt flag.
func SetHalted(halted bool) {
	if halted {
		haltState.Set(1)
		return
	}
	haltState.Set(0)
}

// SetEquity publishes the reconciled account equity.
func SetEquity(equity float64) {
	accountEquity.Set(equity)
}

// SetExposure publishes the total exposure.
func SetExposure(exposure float64) {
	totalExposure.Set(exposure)
}

// RecordError counts an error by type.
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
