package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDepPair wires up a single "main depends on dep" edge of the given
// kind and returns both services already registered in a fresh set.
func newDepPair(t *testing.T, kind DependencyType) (set *ServiceSet, main, dep *InternalService) {
	t.Helper()
	set, _ = newHarness(t)
	dep = NewInternalService(set, "dep")
	main = NewInternalService(set, "main")
	set.AddService(dep)
	set.AddService(main)
	main.Record().AddDep(dep, kind)
	return set, main, dep
}

// noCascadeKinds are the dependency kinds whose dependent must reach
// STARTED even when the target is pinned down and can never start.
var noCascadeKinds = []DependencyType{DepSoft, DepWaitsFor}

func TestNonCascadingKindsToleratesDepFailure(t *testing.T) {
	for _, kind := range noCascadeKinds {
		t.Run(kind.String(), func(t *testing.T) {
			set, main, dep := newDepPair(t, kind)
			dep.PinStop()

			set.StartService(main)

			assert.Equal(t, StateStarted, main.State())
			assert.False(t, main.Record().DidStartFail())
		})
	}
}

// cascadingKinds are the dependency kinds that must abort the dependent's
// start when the target cannot start.
var cascadingKinds = []DependencyType{DepRegular, DepMilestone}

func TestCascadingKindsAbortOnDepFailure(t *testing.T) {
	for _, kind := range cascadingKinds {
		t.Run(kind.String(), func(t *testing.T) {
			set, main, dep := newDepPair(t, kind)
			dep.PinStop()

			set.StartService(main)

			assert.Equal(t, StateStopped, main.State())
			assert.True(t, main.Record().DidStartFail())
		})
	}
}

func TestSoftDepStopDoesNotPropagateToDependent(t *testing.T) {
	set, main, dep := newDepPair(t, DepSoft)

	set.StartService(main)
	require.Equal(t, StateStarted, dep.State())
	require.Equal(t, StateStarted, main.State())

	set.StopService(dep)

	assert.Equal(t, StateStopped, dep.State())
	assert.Equal(t, StateStarted, main.State(), "soft dep stop must not cascade")
}

func TestRegularDepStopPropagatesViaRelease(t *testing.T) {
	set, main, dep := newDepPair(t, DepRegular)

	set.StartService(main)
	require.Equal(t, StateStarted, dep.State())

	set.StopService(main)

	assert.Equal(t, StateStopped, main.State())
	assert.Equal(t, StateStopped, dep.State(), "dep released once its sole dependent stops")
}

func TestMilestoneBecomesSoftOnceSatisfied(t *testing.T) {
	set, main, dep := newDepPair(t, DepMilestone)

	set.StartService(main)
	require.Equal(t, StateStarted, dep.State())
	require.Equal(t, StateStarted, main.State())

	// The milestone is satisfied; dep should now behave like a soft
	// dependency and its stop must not cascade.
	set.StopService(dep)

	assert.Equal(t, StateStopped, dep.State())
	assert.Equal(t, StateStarted, main.State())
}

func TestSoftDependentReattachesAfterDependencyRestart(t *testing.T) {
	set, main, dep := newDepPair(t, DepSoft)

	set.StartService(main)
	require.Equal(t, StateStarted, dep.State())
	requiredBefore := dep.RequiredBy()

	dep.Restart()
	set.ProcessQueues()

	require.Equal(t, StateStarted, dep.State())
	assert.GreaterOrEqual(t, dep.RequiredBy(), requiredBefore,
		"soft dependent should reacquire its hold across the dependency's restart")
	assert.Equal(t, StateStarted, main.State())
}

func TestOrderingDependencyCarriesNoHoldOrCascade(t *testing.T) {
	for _, kind := range []DependencyType{DepBefore, DepAfter} {
		t.Run(kind.String(), func(t *testing.T) {
			set, main, dep := newDepPair(t, kind)

			set.StartService(main)
			assert.Equal(t, StateStarted, main.State())
			assert.Zero(t, dep.RequiredBy(), "ordering-only edges must not Require() the target")

			set.StopService(main)
			assert.Equal(t, StateStopped, main.State())
		})
	}
}

func TestBeforeOrderingSequencesStartupLogOutput(t *testing.T) {
	set, logger := newHarness(t)

	first := NewInternalService(set, "runs-first")
	second := NewInternalService(set, "runs-second")
	set.AddService(first)
	set.AddService(second)

	first.Record().AddDep(second, DepBefore)

	set.StartService(first)
	set.StartService(second)

	firstIdx, secondIdx := -1, -1
	for i, name := range logger.started {
		switch name {
		case "runs-first":
			firstIdx = i
		case "runs-second":
			secondIdx = i
		}
	}

	require.NotEqual(t, -1, firstIdx)
	require.NotEqual(t, -1, secondIdx)
	assert.Less(t, firstIdx, secondIdx)
}

func TestIsHardReflectsMilestoneTransition(t *testing.T) {
	set, _ := newHarness(t)
	main := NewInternalService(set, "main")
	dep := NewInternalService(set, "dep")
	set.AddService(main)
	set.AddService(dep)

	d := main.Record().AddDep(dep, DepMilestone)
	d.WaitingOn = true
	assert.True(t, d.IsHard())

	d.WaitingOn = false
	assert.False(t, d.IsHard())
}

func TestIsOnlyOrderingCoversBeforeAndAfterExclusively(t *testing.T) {
	cases := map[DependencyType]bool{
		DepRegular:   false,
		DepSoft:      false,
		DepWaitsFor:  false,
		DepMilestone: false,
		DepBefore:    true,
		DepAfter:     true,
	}
	for kind, want := range cases {
		d := NewServiceDep(nil, nil, kind)
		assert.Equal(t, want, d.IsOnlyOrdering(), kind.String())
	}
}
