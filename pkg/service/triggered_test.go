package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggeredServiceParksUntilFired(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewTriggeredService(set, "gate")
	set.AddService(svc)

	set.StartService(svc)
	assert.Equal(t, StateStarting, svc.State())

	svc.SetTrigger(true)
	assert.Equal(t, StateStarted, svc.State())
}

func TestTriggeredServiceFireLogsStart(t *testing.T) {
	set, logger := newHarness(t)

	svc := NewTriggeredService(set, "gate")
	set.AddService(svc)

	set.StartService(svc)
	require.Equal(t, StateStarting, svc.State())

	svc.SetTrigger(true)

	assert.Equal(t, []string{"gate"}, logger.started)
}

func TestTriggeredServicePreArmedTriggerSkipsStarting(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewTriggeredService(set, "gate")
	set.AddService(svc)

	svc.SetTrigger(true)
	set.StartService(svc)

	assert.Equal(t, StateStarted, svc.State())
}

func TestTriggeredServiceStopsLikeAnyService(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewTriggeredService(set, "gate")
	set.AddService(svc)

	svc.SetTrigger(true)
	set.StartService(svc)
	require.Equal(t, StateStarted, svc.State())

	set.StopService(svc)
	assert.Equal(t, StateStopped, svc.State())
}

func TestTriggeredServiceWaitsOnDependenciesBeforeFiring(t *testing.T) {
	set, _ := newHarness(t)

	dep := NewInternalService(set, "dep")
	svc := NewTriggeredService(set, "gate")
	set.AddService(dep)
	set.AddService(svc)
	svc.Record().AddDep(dep, DepRegular)

	set.StartService(svc)

	require.Equal(t, StateStarted, dep.State())
	require.Equal(t, StateStarting, svc.State(), "deps satisfied but trigger not yet fired")

	svc.SetTrigger(true)
	assert.Equal(t, StateStarted, svc.State())
}

func TestTriggeredServiceCanCancelBeforeFiring(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewTriggeredService(set, "gate")
	set.AddService(svc)

	set.StartService(svc)
	require.Equal(t, StateStarting, svc.State())

	svc.Stop(true)
	set.ProcessQueues()

	assert.Equal(t, StateStopped, svc.State())
}

func TestIsTriggeredReflectsSetTrigger(t *testing.T) {
	set, _ := newHarness(t)
	svc := NewTriggeredService(set, "gate")
	set.AddService(svc)

	assert.False(t, svc.IsTriggered())
	svc.SetTrigger(true)
	assert.True(t, svc.IsTriggered())
	svc.SetTrigger(false)
	assert.False(t, svc.IsTriggered())
}
