package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedServiceRunsStartAndStopCommands(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewScriptedService(set, "scripted")
	svc.SetStartCommand([]string{"/bin/true"})
	svc.SetStopCommand([]string{"/bin/true"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, StateStarted, svc.State())

	svc.Stop(true)
	set.ProcessQueues()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
}

func TestScriptedServiceNonZeroStartExitMarksFailure(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewScriptedService(set, "bad-exit")
	svc.SetStartCommand([]string{"/bin/false"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
	assert.True(t, svc.DidStartFail())
}

func TestScriptedServiceExecFailure(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewScriptedService(set, "missing-script")
	svc.SetStartCommand([]string{"/nonexistent/script"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
}

func TestScriptedServiceWithNoCommandsIsInstant(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewScriptedService(set, "no-op")
	set.AddService(svc)

	set.StartService(svc)
	require.Equal(t, StateStarted, svc.State())

	set.StopService(svc)
	assert.Equal(t, StateStopped, svc.State())
}

func TestScriptedServiceDependencyTracksLifecycle(t *testing.T) {
	set, _ := newHarness(t)

	dep := NewInternalService(set, "dep")
	set.AddService(dep)

	svc := NewScriptedService(set, "scripted-with-dep")
	svc.SetStartCommand([]string{"/bin/true"})
	svc.SetStopCommand([]string{"/bin/true"})
	set.AddService(svc)
	svc.Record().AddDep(dep, DepRegular)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)

	require.Equal(t, StateStarted, dep.State())
	require.Equal(t, StateStarted, svc.State())

	set.StopService(svc)
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
	assert.Equal(t, StateStopped, dep.State())
}
