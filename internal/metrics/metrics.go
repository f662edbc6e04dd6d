// Package metrics provides Prometheus metrics for the multiplexer.
//
// Key metrics:
//   - Admin connection state, reconnects and inbound notification rate
//   - Router dispatch counts, skipped accounts and handler failures
//   - Registered proxies, existence checks and subscription syncs
//
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	ConnectionState     prometheus.Gauge
	Reconnects          prometheus.Counter
	NotificationsRecv   prometheus.Counter
	NotificationsRouted prometheus.Counter
	Dispatches          prometheus.Counter
	DispatchSkipped     prometheus.Counter
	DispatchFailures    *prometheus.CounterVec
	Proxies             prometheus.Gauge
	DegradedProxies     prometheus.Gauge
	ExistenceChecks     *prometheus.CounterVec
	SubscriptionSyncs   *prometheus.CounterVec
	SubscriptionLatency prometheus.Histogram
}

// New registers all metrics with reg. A nil reg gets a private registry,
// which keeps independent instances (e.g. in tests) from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledgermux_admin_connection_state",
			Help: "Admin connection state (0 disconnected, 1 connecting, 2 connected)",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgermux_admin_reconnects_total",
			Help: "Total number of successful admin reconnects",
		}),
		NotificationsRecv: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgermux_notifications_received_total",
			Help: "Total number of notifications read from the admin connection",
		}),
		NotificationsRouted: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgermux_notifications_routed_total",
			Help: "Total number of notifications processed by the router",
		}),
		Dispatches: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgermux_dispatches_total",
			Help: "Total number of per-account dispatch tasks started",
		}),
		DispatchSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgermux_dispatch_skipped_total",
			Help: "Dispatches skipped because no proxy is registered for the account",
		}),
		DispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgermux_dispatch_failures_total",
			Help: "Dispatch failures by target (proxy or global)",
		}, []string{"target"}),
		Proxies: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledgermux_proxies",
			Help: "Number of registered account proxies",
		}),
		DegradedProxies: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledgermux_proxies_degraded",
			Help: "Registered proxies whose account is not known to be subscribed",
		}),
		ExistenceChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgermux_existence_checks_total",
			Help: "Account existence checks by result",
		}, []string{"result"}),
		SubscriptionSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgermux_subscription_syncs_total",
			Help: "Subscription sync requests by result",
		}, []string{"result"}),
		SubscriptionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgermux_subscription_sync_duration_seconds",
			Help:    "Duration of subscription sync requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// SetConnectionState records the admin connection state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

// IncReconnect records a successful reconnect.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// IncReceived records a notification read from the socket.
func (m *Metrics) IncReceived() {
	if m == nil {
		return
	}
	m.NotificationsRecv.Inc()
}

// ObserveRouted records a notification handed to the router and the number
// of dispatch tasks it produced.
func (m *Metrics) ObserveRouted(dispatches int) {
	if m == nil {
		return
	}
	m.NotificationsRouted.Inc()
	m.Dispatches.Add(float64(dispatches))
}

// IncSkipped records a dispatch to an unregistered account.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.DispatchSkipped.Inc()
}

// IncDispatchFailure records a failed proxy or global dispatch.
func (m *Metrics) IncDispatchFailure(target string) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(target).Inc()
}

// SetProxies records registry size and degraded count.
func (m *Metrics) SetProxies(total, degraded int) {
	if m == nil {
		return
	}
	m.Proxies.Set(float64(total))
	m.DegradedProxies.Set(float64(degraded))
}

// ObserveExistenceCheck records an existence check outcome.
func (m *Metrics) ObserveExistenceCheck(err error) {
	if m == nil {
		return
	}
	m.ExistenceChecks.WithLabelValues(result(err)).Inc()
}

// ObserveSubscriptionSync records a subscription sync outcome.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveSubscriptionSync(start time.Time, err error) {
	if m == nil {
		return
	}
	m.SubscriptionSyncs.WithLabelValues(result(err)).Inc()
	m.SubscriptionLatency.Observe(time.Since(start).Seconds())
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
