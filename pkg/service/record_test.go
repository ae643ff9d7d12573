package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger is a ServiceLogger that records every call for assertions.
type recordingLogger struct {
	started []string
	stopped []string
	failed  []string
	errors  []string
}

func (l *recordingLogger) ServiceStarted(name string)        { l.started = append(l.started, name) }
func (l *recordingLogger) ServiceStopped(name string)        { l.stopped = append(l.stopped, name) }
func (l *recordingLogger) ServiceFailed(name string, _ bool) { l.failed = append(l.failed, name) }
func (l *recordingLogger) Error(format string, args ...interface{}) {
	l.errors = append(l.errors, format)
}
func (l *recordingLogger) Info(format string, args ...interface{}) {}

func newHarness(t *testing.T) (*ServiceSet, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	return NewServiceSet(logger), logger
}

// eventSink is a ServiceListener that records every event fired on it.
type eventSink struct {
	events []ServiceEvent
}

func (s *eventSink) ServiceEvent(_ Service, event ServiceEvent) {
	s.events = append(s.events, event)
}

func TestInternalServiceLifecycle(t *testing.T) {
	set, logger := newHarness(t)

	svc := NewInternalService(set, "leaf")
	set.AddService(svc)

	set.StartService(svc)
	require.Equal(t, StateStarted, svc.State())
	assert.Equal(t, []string{"leaf"}, logger.started)

	set.StopService(svc)
	require.Equal(t, StateStopped, svc.State())
	assert.Equal(t, []string{"leaf"}, logger.stopped)
}

func TestRegularDependencyChainPropagates(t *testing.T) {
	set, _ := newHarness(t)

	a := NewInternalService(set, "a")
	b := NewInternalService(set, "b")
	c := NewInternalService(set, "c")
	for _, s := range []Service{a, b, c} {
		set.AddService(s)
	}

	c.Record().AddDep(b, DepRegular)
	b.Record().AddDep(a, DepRegular)

	set.StartService(c)
	for _, s := range []Service{a, b, c} {
		assert.Equal(t, StateStarted, s.State(), s.Name())
	}

	set.StopService(c)
	for _, s := range []Service{a, b, c} {
		assert.Equal(t, StateStopped, s.State(), s.Name())
	}
}

func TestDependencyStartedOnDemandAndReleasedWhenUnused(t *testing.T) {
	set, _ := newHarness(t)

	dep := NewInternalService(set, "shared")
	main := NewInternalService(set, "main")
	set.AddService(dep)
	set.AddService(main)

	main.Record().AddDep(dep, DepRegular)
	set.StartService(main)

	assert.Equal(t, StateStarted, dep.State())

	set.StopService(main)
	assert.Equal(t, StateStopped, main.State())
	assert.Equal(t, StateStopped, dep.State())
}

func TestRequireCountKeepsSharedDependencyUpUntilLastReleaser(t *testing.T) {
	set, _ := newHarness(t)

	dep := NewInternalService(set, "shared")
	a := NewInternalService(set, "a")
	b := NewInternalService(set, "b")
	set.AddService(dep)
	set.AddService(a)
	set.AddService(b)

	a.Record().AddDep(dep, DepRegular)
	b.Record().AddDep(dep, DepRegular)

	set.StartService(a)
	set.StartService(b)
	require.Equal(t, StateStarted, dep.State())

	set.StopService(a)
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, StateStarted, dep.State(), "dep still required by b")

	set.StopService(b)
	assert.Equal(t, StateStopped, dep.State())
}

func TestPinStartOverridesStopUntilUnpinned(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewInternalService(set, "pinned")
	set.AddService(svc)
	set.StartService(svc)
	svc.PinStart()

	svc.Stop(true)
	set.ProcessQueues()
	assert.Equal(t, StateStarted, svc.State(), "pin-start should hold the service up")

	svc.Unpin()
	assert.Equal(t, StateStopped, svc.State())
}

func TestPinStopBlocksStart(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewInternalService(set, "pin-stopped")
	set.AddService(svc)
	svc.PinStop()

	svc.Start()
	set.ProcessQueues()
	assert.Equal(t, StateStopped, svc.State())
}

func TestPinStartPropagatesToHardDependencies(t *testing.T) {
	set, _ := newHarness(t)

	dep := NewInternalService(set, "dep")
	main := NewInternalService(set, "main")
	set.AddService(dep)
	set.AddService(main)
	main.Record().AddDep(dep, DepRegular)

	set.StartService(main)
	main.PinStart()
	set.ProcessQueues()

	require.True(t, dep.Record().deptPinnedStarted, "dep should see a dependent pin")

	// Stopping main directly is blocked by its own pin; verify the
	// dependent-pin bit clears once main is unpinned and stops.
	main.Unpin()
	set.StopService(main)
	assert.False(t, dep.Record().deptPinnedStarted)
}

func TestStopAllServicesDrainsEverything(t *testing.T) {
	set, _ := newHarness(t)

	names := []string{"a", "b", "c"}
	svcs := make([]Service, len(names))
	for i, n := range names {
		s := NewInternalService(set, n)
		set.AddService(s)
		svcs[i] = s
	}

	for _, s := range svcs {
		set.StartService(s)
	}
	require.Equal(t, 3, set.CountActiveServices())

	set.StopAllServices(ShutdownHalt)

	for _, s := range svcs {
		assert.Equal(t, StateStopped, s.State())
	}
	assert.Zero(t, set.CountActiveServices())
}

func TestRestartReturnsToStarted(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewInternalService(set, "restartable")
	set.AddService(svc)
	set.StartService(svc)
	require.Equal(t, StateStarted, svc.State())

	ok := svc.Restart()
	set.ProcessQueues()

	assert.True(t, ok)
	assert.Equal(t, StateStarted, svc.State())
}

func TestListenerSeesStartThenStop(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewInternalService(set, "observed")
	set.AddService(svc)

	sink := &eventSink{}
	svc.AddListener(sink)

	set.StartService(svc)
	set.StopService(svc)

	assert.Equal(t, []ServiceEvent{EventStarted, EventStopped}, sink.events)
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewInternalService(set, "observed")
	set.AddService(svc)

	sink := &eventSink{}
	svc.AddListener(sink)
	svc.RemoveListener(sink)

	set.StartService(svc)

	assert.Empty(t, sink.events)
}
