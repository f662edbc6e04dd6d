package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnectionState(2)
		m.IncReconnect()
		m.IncReceived()
		m.ObserveRouted(3)
		m.IncSkipped()
		m.IncDispatchFailure("proxy")
		m.SetProxies(1, 0)
		m.ObserveExistenceCheck(nil)
		m.ObserveSubscriptionSync(time.Now(), nil)
	})
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRouted(2)
	m.ObserveRouted(1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsRouted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Dispatches))

	m.ObserveExistenceCheck(nil)
	m.ObserveExistenceCheck(errors.New("404"))
	m.ObserveExistenceCheck(errors.New("500"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExistenceChecks.WithLabelValues(ResultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExistenceChecks.WithLabelValues(ResultError)))

	m.SetProxies(4, 1)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Proxies))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedProxies))
}

func TestNew_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
