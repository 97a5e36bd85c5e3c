package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the control channel
type Metrics struct {
	// Connection metrics
	ConnectAttempts    prometheus.Counter
	ConnectFailures    *prometheus.CounterVec
	ProtocolDowngrades prometheus.Counter
	ReconnectSchedules prometheus.Counter
	Connected          prometheus.Gauge

	// Refresh metrics
	RefreshTotal  *prometheus.CounterVec
	RefreshErrors *prometheus.CounterVec

	// Event metrics
	EventsTotal   *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

// New creates control channel metrics and registers them with the given
// registerer. Pass prometheus.DefaultRegisterer for the usual behavior or a
// private registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cqlcontrol_connect_attempts_total",
				Help: "Total number of control connection attempts",
			},
		),

		ConnectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqlcontrol_connect_failures_total",
				Help: "Total number of failed control connection attempts",
			},
			[]string{"reason"},
		),

		ProtocolDowngrades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cqlcontrol_protocol_downgrades_total",
				Help: "Total number of protocol version downgrades during negotiation",
			},
		),

		ReconnectSchedules: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cqlcontrol_reconnect_schedules_total",
				Help: "Total number of scheduled reconnect attempts",
			},
		),

		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cqlcontrol_connected",
				Help: "Whether the control connection is currently established",
			},
		),

		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqlcontrol_refresh_total",
				Help: "Total number of metadata refreshes by kind",
			},
			[]string{"kind"},
		),

		RefreshErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqlcontrol_refresh_errors_total",
				Help: "Total number of metadata refresh failures by kind",
			},
			[]string{"kind"},
		),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqlcontrol_events_total",
				Help: "Total number of server pushed events by type",
			},
			[]string{"type"},
		),

		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cqlcontrol_events_dropped_total",
				Help: "Total number of events dropped because the channel was not ready",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectAttempts,
			m.ConnectFailures,
			m.ProtocolDowngrades,
			m.ReconnectSchedules,
			m.Connected,
			m.RefreshTotal,
			m.RefreshErrors,
			m.EventsTotal,
			m.EventsDropped,
		)
	}

	return m
}

// NewNop creates unregistered metrics for use when the embedder does not
// supply a registry.
func NewNop() *Metrics {
	return New(nil)
}
