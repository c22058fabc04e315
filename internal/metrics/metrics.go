// Package metrics holds the Prometheus collectors for session handling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reviewctl"

// Metrics is passed to components that record metrics. A nil *Metrics records nothing.
type Metrics struct {
	RenewalsTotal   *prometheus.CounterVec
	RenewalDuration prometheus.Histogram
	RenewalJoins    prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SessionsCleared *prometheus.CounterVec
}

// New creates and registers all metrics with the given registry
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RenewalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_renewals_total",
				Help:      "Token renewals by outcome",
			},
			[]string{"result"}, // result=ok/failed/skipped
		),
		RenewalDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "token_renewal_duration_seconds",
				Help:      "Duration of refresh calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RenewalJoins: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_renewal_joins_total",
				Help:      "Renewal requests that joined a flight already in progress",
			},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "API requests by method and status class",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration including renewal and retry",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SessionsCleared: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_cleared_total",
				Help:      "Sessions cleared by reason",
			},
			[]string{"reason"}, // reason=renewal_failed/logout
		),
	}
}

func (m *Metrics) Renewal(result string, seconds float64) {
	if m == nil {
		return
	}
	m.RenewalsTotal.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.RenewalDuration.Observe(seconds)
	}
}

func (m *Metrics) RenewalJoined() {
	if m == nil {
		return
	}
	m.RenewalJoins.Inc()
}

func (m *Metrics) Request(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) SessionCleared(reason string) {
	if m == nil {
		return
	}
	m.SessionsCleared.WithLabelValues(reason).Inc()
}
