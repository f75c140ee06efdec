// Package metrics exposes GEX calculation and HTTP metrics to Prometheus.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// Recorder records calculator and API activity.
type Recorder struct {
	calculations *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	netGEX       *prometheus.GaugeVec
	totalGEX     *prometheus.GaugeVec
	flipPoint    *prometheus.GaugeVec
	regime       *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default
// registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		calculations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerogex_calculations_total",
				Help: "Total number of successful GEX calculations",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerogex_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"op", "kind"},
		),
		netGEX: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zerogex_net_gex",
				Help: "Latest net gamma exposure (call minus put)",
			},
			[]string{"symbol"},
		),
		totalGEX: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zerogex_total_gamma_exposure",
				Help: "Latest total gamma exposure (call plus put)",
			},
			[]string{"symbol"},
		),
		flipPoint: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zerogex_gamma_flip_point",
				Help: "Latest gamma flip price level",
			},
			[]string{"symbol"},
		),
		regime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zerogex_positive_gamma_regime",
				Help: "1 when net GEX is positive, 0 otherwise",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zerogex_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerogex_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zerogex_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordCalculation updates the per-symbol gauges from m.
func (r *Recorder) RecordCalculation(m *gex.GEXMetrics) {
	r.calculations.WithLabelValues(m.Symbol).Inc()
	r.netGEX.WithLabelValues(m.Symbol).Set(m.NetGEX)
	r.totalGEX.WithLabelValues(m.Symbol).Set(m.TotalGammaExposure)
	if m.GammaFlipPoint != nil {
		r.flipPoint.WithLabelValues(m.Symbol).Set(*m.GammaFlipPoint)
	}
	positive := 0.0
	if m.IsPositiveGammaRegime() {
		positive = 1
	}
	r.regime.WithLabelValues(m.Symbol).Set(positive)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(op, kind string) {
	r.errorsTotal.WithLabelValues(op, kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordRequest records a served HTTP request.
func (r *Recorder) RecordRequest(route, code string, seconds float64) {
	r.httpRequests.WithLabelValues(route, code).Inc()
	r.httpDuration.WithLabelValues(route).Observe(seconds)
}

// ErrorKind maps an error to a low-cardinality label value.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, gex.ErrStaleData):
		return "stale_data"
	case errors.Is(err, gex.ErrNoData):
		return "no_data"
	case errors.Is(err, gex.ErrInvalidPrice),
		errors.Is(err, gex.ErrInvalidConfidence),
		errors.Is(err, gex.ErrInvalidSymbol),
		errors.Is(err, gex.ErrInvalidThreshold):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
