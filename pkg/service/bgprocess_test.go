package service

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfBackgroundingScript builds a shell command that mimics a daemon which
// forks into the background, records its child's PID to pidFile, and exits
// (the launcher completing while the real daemon keeps running).
func selfBackgroundingScript(pidFile string, lifespanSecs int) []string {
	return []string{"/bin/sh", "-c",
		fmt.Sprintf(`sleep %d & echo $! > %s; exit 0`, lifespanSecs, pidFile),
	}
}

func TestBGProcessServiceDiscoversDaemonPID(t *testing.T) {
	set, logger := newHarness(t)
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	svc := NewBGProcessService(set, "daemon")
	svc.SetCommand(selfBackgroundingScript(pidFile, 60))
	svc.SetPIDFile(pidFile)
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(500 * time.Millisecond)

	require.Equal(t, StateStarted, svc.State())
	require.Positive(t, svc.PID())
	assert.Equal(t, []string{"daemon"}, logger.started)

	svc.Stop(true)
	set.ProcessQueues()
	// SIGTERM propagation plus the 1s poll interval before death is noticed.
	time.Sleep(2500 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
}

func TestBGProcessServiceRequiresPIDFile(t *testing.T) {
	set, _ := newHarness(t)

	svc := NewBGProcessService(set, "no-pidfile")
	svc.SetCommand([]string{"/bin/true"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(200 * time.Millisecond)

	assert.NotEqual(t, StateStarted, svc.State())
}

func TestBGProcessServiceRejectsUnparseablePIDFile(t *testing.T) {
	set, _ := newHarness(t)
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid\n"), 0644))

	svc := NewBGProcessService(set, "bad-pidfile")
	svc.SetCommand([]string{"/bin/true"})
	svc.SetPIDFile(pidFile)
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
}

func TestBGProcessServiceDetectsDaemonDeath(t *testing.T) {
	set, _ := newHarness(t)
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	svc := NewBGProcessService(set, "short-lived")
	svc.SetCommand(selfBackgroundingScript(pidFile, 1))
	svc.SetPIDFile(pidFile)
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, StateStarted, svc.State())

	// Daemon self-terminates after ~1s; poll interval is 1s.
	time.Sleep(3 * time.Second)
	assert.Equal(t, StateStopped, svc.State())
}

func TestBGProcessServiceHoldsDependencyWhileRunning(t *testing.T) {
	set, _ := newHarness(t)
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	dep := NewInternalService(set, "dep")
	svc := NewBGProcessService(set, "daemon-with-dep")
	svc.SetCommand(selfBackgroundingScript(pidFile, 60))
	svc.SetPIDFile(pidFile)
	set.AddService(dep)
	set.AddService(svc)
	svc.Record().AddDep(dep, DepRegular)

	set.StartService(svc)
	time.Sleep(500 * time.Millisecond)

	require.Equal(t, StateStarted, dep.State())
	require.Equal(t, StateStarted, svc.State())

	svc.Stop(true)
	set.ProcessQueues()
	time.Sleep(2500 * time.Millisecond)

	assert.Equal(t, StateStopped, svc.State())
	assert.Equal(t, StateStopped, dep.State())
}
