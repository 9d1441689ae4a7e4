// Package metrics holds the Prometheus collectors of the order engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fill results used as the "result" label.
const (
	ResultFilled   = "filled"
	ResultRejected = "rejected"
)

type Metrics struct {
	Registry *prometheus.Registry

	Fills           *prometheus.CounterVec
	FillDuration    prometheus.Histogram
	MarginRequired  *prometheus.HistogramVec
	Cancels         prometheus.Counter
	NonceIncrements prometheus.Counter
	Rejections      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Fills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irs_fills_total",
			Help: "Fill attempts by result",
		}, []string{"result"}),

		FillDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "irs_fill_duration_seconds",
			Help:    "Time to execute a fill transaction",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		MarginRequired: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irs_margin_required",
			Help:    "Margin posted per fill, in asset units",
			Buckets: prometheus.ExponentialBuckets(1, 10, 12),
		}, []string{"side"}),

		Cancels: f.NewCounter(prometheus.CounterOpts{
			Name: "irs_cancels_total",
			Help: "Orders cancelled by their maker",
		}),

		NonceIncrements: f.NewCounter(prometheus.CounterOpts{
			Name: "irs_nonce_increments_total",
			Help: "Maker nonce bumps",
		}),

		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irs_fill_rejections_total",
			Help: "Rejected fills by reason",
		}, []string{"reason"}),
	}
}

// ObserveFill records one fill attempt. reason is empty on success.
func (m *Metrics) ObserveFill(started time.Time, reason string) {
	if m == nil {
		return
	}
	m.FillDuration.Observe(time.Since(started).Seconds())
	if reason == "" {
		m.Fills.WithLabelValues(ResultFilled).Inc()
		return
	}
	m.Fills.WithLabelValues(ResultRejected).Inc()
	m.Rejections.WithLabelValues(reason).Inc()
}

// ObserveMargin records the margin posted by one side of a fill.
func (m *Metrics) ObserveMargin(side string, amount float64) {
	if m == nil {
		return
	}
	m.MarginRequired.WithLabelValues(side).Observe(amount)
}

func (m *Metrics) ObserveCancel() {
	if m == nil {
		return
	}
	m.Cancels.Inc()
}

func (m *Metrics) ObserveNonceIncrement() {
	if m == nil {
		return
	}
	m.NonceIncrements.Inc()
}
