// Package metrics exposes Prometheus collectors for the timer service.
//
// All methods are safe to call on a nil *Metrics, so components can take an
// optional collector set without checking for it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mytimer"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	liveTimers      prometheus.Gauge
	capacity        prometheus.Gauge
	waiters         prometheus.Gauge
	registrations   *prometheus.CounterVec
	commands        *prometheus.CounterVec
	fired           prometheus.Counter
	cancelled       prometheus.Counter
	inconsistencies prometheus.Counter
	oversize        prometheus.Counter
	notifications   *prometheus.CounterVec
}

// New creates the collectors and registers them on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		liveTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_timers",
			Help:      "Number of timers currently armed.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity",
			Help:      "Maximum number of simultaneously live timers.",
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiters",
			Help:      "Number of clients registered for fire notifications.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Register commands by outcome.",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Control commands dispatched by kind.",
		}, []string{"kind"}),
		fired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fired_total",
			Help:      "Timers that reached their deadline.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancelled_total",
			Help:      "Timers torn down before their deadline.",
		}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_lookup_inconsistencies_total",
			Help:      "Firings whose handle matched no live timer.",
		}),
		oversize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oversize_commands_total",
			Help:      "Commands rejected for exceeding the control buffer.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Events delivered to waiters by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.liveTimers,
		m.capacity,
		m.waiters,
		m.registrations,
		m.commands,
		m.fired,
		m.cancelled,
		m.inconsistencies,
		m.oversize,
		m.notifications,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetLiveTimers records the number of live timers.
func (m *Metrics) SetLiveTimers(n int) {
	if m == nil {
		return
	}
	m.liveTimers.Set(float64(n))
}

// SetCapacity records the capacity limit.
func (m *Metrics) SetCapacity(n int) {
	if m == nil {
		return
	}
	m.capacity.Set(float64(n))
}

// SetWaiters records the number of registered waiters.
func (m *Metrics) SetWaiters(n int) {
	if m == nil {
		return
	}
	m.waiters.Set(float64(n))
}

// ObserveRegistration counts a register command outcome.
func (m *Metrics) ObserveRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// ObserveCommand counts a dispatched command.
func (m *Metrics) ObserveCommand(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

// ObserveFired counts a timer firing.
func (m *Metrics) ObserveFired() {
	if m == nil {
		return
	}
	m.fired.Inc()
}

// ObserveCancelled counts timers removed by cancel-all.
func (m *Metrics) ObserveCancelled(n int) {
	if m == nil {
		return
	}
	m.cancelled.Add(float64(n))
}

// ObserveInconsistency counts a firing with no matching timer.
func (m *Metrics) ObserveInconsistency() {
	if m == nil {
		return
	}
	m.inconsistencies.Inc()
}

// ObserveOversize counts a rejected oversize command.
func (m *Metrics) ObserveOversize() {
	if m == nil {
		return
	}
	m.oversize.Inc()
}

// ObserveNotifications counts events delivered to waiters.
func (m *Metrics) ObserveNotifications(kind string, delivered int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Add(float64(delivered))
}
