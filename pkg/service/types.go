// Package service implements the core service state machine: the states
// a service moves through, how dependency edges classify and propagate
// those transitions, and the small value types the rest of the
// supervisor's packages build on.
package service

import (
	"fmt"
	"syscall"
)

// ServiceState represents the current state of a service.
type ServiceState uint8

const (
	StateStopped  ServiceState = iota // Service is not running
	StateStarting                     // Service is starting
	StateStarted                      // Service is running
	StateStopping                     // Service is stopping
)

var serviceStateNames = [...]string{
	StateStopped:  "STOPPED",
	StateStarting: "STARTING",
	StateStarted:  "STARTED",
	StateStopping: "STOPPING",
}

func (s ServiceState) String() string {
	if int(s) < len(serviceStateNames) {
		return serviceStateNames[s]
	}
	return fmt.Sprintf("ServiceState(%d)", s)
}

// IsFinal returns true if this is a final state (STOPPED or STARTED).
func (s ServiceState) IsFinal() bool {
	return s == StateStopped || s == StateStarted
}

// ServiceType identifies the kind of service.
type ServiceType uint8

const (
	TypePlaceholder ServiceType = iota // Placeholder service, used during loading/reloading
	TypeProcess                        // Long-running monitored process
	TypeBGProcess                      // Self-backgrounding daemon process
	TypeScripted                       // Start/stop via external commands
	TypeInternal                       // No external process
	TypeTriggered                      // Externally triggered service
)

var serviceTypeNames = [...]string{
	TypePlaceholder: "placeholder",
	TypeProcess:     "process",
	TypeBGProcess:   "bgprocess",
	TypeScripted:    "scripted",
	TypeInternal:    "internal",
	TypeTriggered:   "triggered",
}

func (t ServiceType) String() string {
	if int(t) < len(serviceTypeNames) {
		return serviceTypeNames[t]
	}
	return fmt.Sprintf("ServiceType(%d)", t)
}

// DependencyType identifies the kind of dependency relationship.
// See depClassTable in dependency.go for how each kind resolves to
// cascade/ordering behavior.
type DependencyType uint8

const (
	DepRegular   DependencyType = iota // Hard dependency
	DepSoft                            // Dependent waits for start/fail; failure/stop doesn't affect it
	DepWaitsFor                        // Same handling as soft
	DepMilestone                       // Must start successfully, then becomes soft
	DepBefore                          // Ordering: this starts before target
	DepAfter                           // Ordering: this starts after target
)

var dependencyTypeNames = [...]string{
	DepRegular:   "regular",
	DepSoft:      "soft",
	DepWaitsFor:  "waits-for",
	DepMilestone: "milestone",
	DepBefore:    "before",
	DepAfter:     "after",
}

func (d DependencyType) String() string {
	if int(d) < len(dependencyTypeNames) {
		return dependencyTypeNames[d]
	}
	return fmt.Sprintf("DependencyType(%d)", d)
}

// ServiceEvent represents a service lifecycle event delivered to listeners.
type ServiceEvent uint8

const (
	EventStarted       ServiceEvent = iota // Service reached STARTED state
	EventStopped                           // Service reached STOPPED state
	EventFailedStart                       // Service failed to start
	EventStartCancelled                    // Start was cancelled by a stop request
	EventStopCancelled                     // Stop was cancelled by a start request
)

var serviceEventNames = [...]string{
	EventStarted:        "STARTED",
	EventStopped:        "STOPPED",
	EventFailedStart:    "FAILEDSTART",
	EventStartCancelled: "STARTCANCELLED",
	EventStopCancelled:  "STOPCANCELLED",
}

func (e ServiceEvent) String() string {
	if int(e) < len(serviceEventNames) {
		return serviceEventNames[e]
	}
	return fmt.Sprintf("ServiceEvent(%d)", e)
}

// ShutdownType represents the action to take once every service has
// been asked to stop.
type ShutdownType uint8

const (
	ShutdownNone       ShutdownType = iota // No explicit shutdown
	ShutdownRemain                         // Continue running with no services
	ShutdownHalt                           // Halt system without powering down
	ShutdownPoweroff                       // Power off system
	ShutdownReboot                         // Reboot system
	ShutdownSoftReboot                     // Reboot supervisord only
)

var shutdownTypeNames = [...]string{
	ShutdownNone:       "none",
	ShutdownRemain:     "remain",
	ShutdownHalt:       "halt",
	ShutdownPoweroff:   "poweroff",
	ShutdownReboot:     "reboot",
	ShutdownSoftReboot: "softreboot",
}

func (s ShutdownType) String() string {
	if int(s) < len(shutdownTypeNames) {
		return shutdownTypeNames[s]
	}
	return fmt.Sprintf("ShutdownType(%d)", s)
}

// StoppedReason explains why a service last stopped.
type StoppedReason uint8

const (
	ReasonNormal     StoppedReason = iota // Normal stop
	ReasonDepRestart                      // Hard dependency was restarted
	ReasonDepFailed                       // Dependency failed to start
	ReasonFailed                          // Failed to start (process terminated)
	ReasonExecFailed                      // Failed to start (couldn't launch process)
	ReasonTimedOut                        // Timed out when starting
	ReasonTerminated                      // Process terminated after starting
)

var stoppedReasonNames = [...]string{
	ReasonNormal:     "normal",
	ReasonDepRestart: "dependency-restart",
	ReasonDepFailed:  "dependency-failed",
	ReasonFailed:     "failed",
	ReasonExecFailed: "exec-failed",
	ReasonTimedOut:   "timed-out",
	ReasonTerminated: "terminated",
}

func (r StoppedReason) String() string {
	if int(r) < len(stoppedReasonNames) {
		return stoppedReasonNames[r]
	}
	return fmt.Sprintf("StoppedReason(%d)", r)
}

// DidFinish returns true if the reason indicates the service ran and then terminated.
func (r StoppedReason) DidFinish() bool {
	return r == ReasonTerminated
}

// AutoRestartMode controls whether a service is relaunched after it stops
// on its own.
type AutoRestartMode uint8

const (
	RestartNever     AutoRestartMode = iota // Never automatically restart
	RestartAlways                           // Always restart
	RestartOnFailure                        // Only restart when process fails
)

var autoRestartModeNames = [...]string{
	RestartNever:     "never",
	RestartAlways:    "always",
	RestartOnFailure: "on-failure",
}

func (a AutoRestartMode) String() string {
	if int(a) < len(autoRestartModeNames) {
		return autoRestartModeNames[a]
	}
	return fmt.Sprintf("AutoRestartMode(%d)", a)
}

// LogType identifies where a service's captured output goes.
type LogType uint8

const (
	LogNone   LogType = iota // Discard all output
	LogFile                  // Log to a file
	LogToBuffer              // Log to a memory buffer
	LogPipe                  // Pipe to another process (service)
)

// ExitStatus holds the exit status of a child process, or the zero value
// if the process hasn't exited (or was never observed exiting).
type ExitStatus struct {
	WaitStatus syscall.WaitStatus
	HasStatus  bool
}

// Exited returns true if the process exited normally.
func (e ExitStatus) Exited() bool {
	return e.HasStatus && e.WaitStatus.Exited()
}

// ExitCode returns the exit code if the process exited normally, or -1.
func (e ExitStatus) ExitCode() int {
	if e.Exited() {
		return e.WaitStatus.ExitStatus()
	}
	return -1
}

// Signaled returns true if the process was killed by a signal.
func (e ExitStatus) Signaled() bool {
	return e.HasStatus && e.WaitStatus.Signaled()
}

// Signal returns the signal that killed the process.
func (e ExitStatus) Signal() syscall.Signal {
	return e.WaitStatus.Signal()
}

// ServiceFlags holds behavioral flags parsed from a service description's
// options setting.
type ServiceFlags struct {
	RWReady            bool // Filesystem is ready when this service starts
	LogReady           bool // Logging is ready when this service starts
	RunsOnConsole      bool // Service runs on the console
	StartsOnConsole    bool // Service uses console during startup
	SharesConsole      bool // Service shares the console
	PassCSFD           bool // Pass control socket fd to child
	StartInterruptible bool // Startup can be interrupted
	Skippable          bool // Service can be skipped during boot
	SignalProcessOnly  bool // Only signal the process, not the process group
	AlwaysChain        bool // Always chain to the next service
	KillAllOnStop      bool // Kill all processes in cgroup on stop
}
