package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ashgrove/supervisor/pkg/service"
)

type noopLogger struct{}

func (noopLogger) ServiceStarted(name string)             {}
func (noopLogger) ServiceStopped(name string)             {}
func (noopLogger) ServiceFailed(name string, depFailed bool) {}
func (noopLogger) Error(format string, args ...interface{}) {}
func (noopLogger) Info(format string, args ...interface{})  {}

func TestCollectorRegistersMetrics(t *testing.T) {
	c := New()
	require.NotNil(t, c.Registry())

	// The vector metrics only show up in Gather once a label set has been
	// observed, so feed one event through the collector first.
	set := service.NewServiceSet(noopLogger{})
	c.ServiceEvent(service.NewInternalService(set, "web"), service.EventFailedStart)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["supervisor_active_services"])
	require.True(t, names["supervisor_service_state"])
	require.True(t, names["supervisor_service_events_total"])
	require.True(t, names["supervisor_failed_starts_total"])
}

func TestSetActiveServices(t *testing.T) {
	c := New()
	c.SetActiveServices(3)
	require.Equal(t, float64(3), testutil.ToFloat64(c.activeServices))
}

func TestServiceEventIncrementsCounters(t *testing.T) {
	c := New()
	set := service.NewServiceSet(noopLogger{})
	svc := service.NewInternalService(set, "web")

	c.ServiceEvent(svc, service.EventStarted)
	require.Equal(t, float64(1), testutil.ToFloat64(c.transitions.WithLabelValues("web", service.EventStarted.String())))
	require.Equal(t, float64(service.StateStopped), testutil.ToFloat64(c.serviceState.WithLabelValues("web")))

	c.ServiceEvent(svc, service.EventFailedStart)
	require.Equal(t, float64(1), testutil.ToFloat64(c.failedStarts.WithLabelValues("web")))
}
