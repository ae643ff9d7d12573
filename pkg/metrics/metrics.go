// Package metrics instruments the service set with Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashgrove/supervisor/pkg/service"
)

// Collector tracks service lifecycle metrics and implements
// service.ServiceListener so it can be attached directly to any service
// record to observe its transitions.
type Collector struct {
	registry       *prometheus.Registry
	activeServices prometheus.Gauge
	serviceState   *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	failedStarts   *prometheus.CounterVec
}

// New creates a Collector with its own private registry (not the global
// default registry), so multiple supervisor instances in the same process,
// as happens in tests, don't collide on metric registration.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		activeServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "supervisor_active_services",
			Help: "Number of services currently not in the STOPPED state.",
		}),
		serviceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_service_state",
			Help: "Current service state as an ordinal: 0=STOPPED 1=STARTING 2=STARTED 3=STOPPING.",
		}, []string{"service"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supervisor_service_events_total",
			Help: "Count of service lifecycle events by kind.",
		}, []string{"service", "event"}),
		failedStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supervisor_failed_starts_total",
			Help: "Count of FAILEDSTART events by service.",
		}, []string{"service"}),
	}

	c.registry.MustRegister(c.activeServices, c.serviceState, c.transitions, c.failedStarts)
	return c
}

// Registry returns the Prometheus registry to serve at /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetActiveServices updates the active_services gauge, mirroring
// ServiceSet.CountActiveServices().
func (c *Collector) SetActiveServices(n int) {
	c.activeServices.Set(float64(n))
}

// ServiceEvent implements service.ServiceListener. It is attached to every
// loaded service so the metrics reflect the exact event stream the core
// state machine emits, never a derived/polled approximation.
func (c *Collector) ServiceEvent(svc service.Service, event service.ServiceEvent) {
	c.transitions.WithLabelValues(svc.Name(), event.String()).Inc()
	c.serviceState.WithLabelValues(svc.Name()).Set(float64(svc.State()))
	if event == service.EventFailedStart {
		c.failedStarts.WithLabelValues(svc.Name()).Inc()
	}
}
