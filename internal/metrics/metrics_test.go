package metrics_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.Renewal("ok", 0.2)
	m.Renewal("failed", 0.1)
	m.Renewal("ok", 0.3)
	m.RenewalJoined()
	m.Request("GET", "2xx", 0.01)
	m.SessionCleared("logout")

	require.Equal(t, 2.0, testutil.ToFloat64(m.RenewalsTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RenewalsTotal.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RenewalJoins))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "2xx")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCleared.WithLabelValues("logout")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Renewal("ok", 1)
		m.RenewalJoined()
		m.Request("GET", "2xx", 1)
		m.SessionCleared("logout")
	})
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	require.Panics(t, func() { metrics.New(reg) })
}
