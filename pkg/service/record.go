package service

import (
	"syscall"
	"time"
)

// Service is the core interface that all service types implement.
// Implementations are a closed set (internal, process, bgprocess, scripted,
// triggered), not an open inheritance hierarchy.
type Service interface {
	// Identity
	Name() string
	Type() ServiceType

	// State
	State() ServiceState
	TargetState() ServiceState
	StopReason() StoppedReason

	// Lifecycle - called by the state machine
	BringUp() bool // start the service; returns false on failure
	BringDown()    // stop the service
	CanInterruptStart() bool
	InterruptStart() bool
	BecomingInactive()
	CheckRestart() bool

	// Process info (for process-based services; defaults return -1/{})
	PID() int
	GetExitStatus() ExitStatus

	// Dependency management
	Dependencies() []*ServiceDep
	Dependents() []*ServiceDep
	RequiredBy() int

	// State machine operations
	Start()
	Stop(bringDown bool)
	Restart() bool
	ForcedStop()

	// Pinning
	PinStart()
	PinStop()
	Unpin()

	// Listeners
	AddListener(ServiceListener)
	RemoveListener(ServiceListener)

	// Log buffer access (for catlog command)
	GetLogBuffer() *LogBuffer
	GetLogType() LogType

	// Internal access to the record (for state machine operations)
	Record() *ServiceRecord
}

// ServiceListener is notified of service state changes.
type ServiceListener interface {
	ServiceEvent(svc Service, event ServiceEvent)
}

// pendingProp is a bitset of propagation work a record still owes the rest
// of the graph. A record sits on the service set's propagation queue iff
// this is nonzero; RunPropagation drains the bits in a fixed priority so a
// single drain pass can never observe a half-applied combination.
type pendingProp uint8

const (
	propRequire pendingProp = 1 << iota
	propRelease
	propFailure
	propStart
	propStop
	propPinDpt
)

func (p pendingProp) has(bit pendingProp) bool { return p&bit != 0 }

// ServiceRecord holds the shared state for all service types.
// Service implementations embed this struct.
type ServiceRecord struct {
	self        Service // pointer back to the implementing Service
	serviceName string
	recordType  ServiceType

	// State
	state   ServiceState
	desired ServiceState

	// Flags
	autoRestart    AutoRestartMode
	smoothRecovery bool

	// Pins
	pinnedStopped     bool
	pinnedStarted     bool
	deptPinnedStarted bool

	// Waiting flags
	waitingForDeps    bool
	waitingForConsole bool
	haveConsole       bool
	startExplicit     bool

	// Pending propagation work, consumed by RunPropagation in a fixed order.
	pending pendingProp

	// Start status
	startFailed  bool
	startSkipped bool

	// Restart tracking
	inAutoRestart bool
	inUserRestart bool

	// Loading
	isLoading bool

	// Force stop flag
	forceStop bool

	// Reference counting
	requiredBy int

	// Dependencies
	dependsOn  []*ServiceDep // services this one depends on
	dependents []*ServiceDep // services depending on this one

	// The set this service belongs to
	services *ServiceSet

	// Listeners
	listeners []ServiceListener

	// Process settings (shared across service types)
	termSignal  syscall.Signal
	socketPath  string
	socketPerms int
	stopReason  StoppedReason
	chainTo     string // service to start when this one completes

	// Queue membership flags
	InPropQueue bool
	InStopQueue bool

	// On-start flags
	Flags ServiceFlags

	// Description source directory
	serviceDscDir string

	// Boot timing timestamps
	startRequestTime time.Time // when beginStart() was called
	startedTime      time.Time // when Started() was called (reached STARTED)
	stoppedTime      time.Time // when Stopped() was called (reached STOPPED)
}

// NewServiceRecord creates a new ServiceRecord with default values.
func NewServiceRecord(self Service, set *ServiceSet, name string, recordType ServiceType) *ServiceRecord {
	return &ServiceRecord{
		self:        self,
		serviceName: name,
		recordType:  recordType,
		state:       StateStopped,
		desired:     StateStopped,
		autoRestart: RestartNever,
		termSignal:  syscall.SIGTERM,
		services:    set,
	}
}

// --- Interface implementation methods ---

func (sr *ServiceRecord) Name() string              { return sr.serviceName }
func (sr *ServiceRecord) Type() ServiceType          { return sr.recordType }
func (sr *ServiceRecord) State() ServiceState        { return sr.state }
func (sr *ServiceRecord) TargetState() ServiceState  { return sr.desired }
func (sr *ServiceRecord) StopReason() StoppedReason  { return sr.stopReason }
func (sr *ServiceRecord) RequiredBy() int            { return sr.requiredBy }
func (sr *ServiceRecord) Dependencies() []*ServiceDep { return sr.dependsOn }
func (sr *ServiceRecord) Dependents() []*ServiceDep   { return sr.dependents }
func (sr *ServiceRecord) Record() *ServiceRecord      { return sr }
func (sr *ServiceRecord) PID() int                    { return -1 }
func (sr *ServiceRecord) GetExitStatus() ExitStatus   { return ExitStatus{} }
func (sr *ServiceRecord) BecomingInactive()           {}
func (sr *ServiceRecord) CheckRestart() bool          { return true }
func (sr *ServiceRecord) GetSmoothRecovery() bool     { return sr.smoothRecovery }

// UnrecoverableStop forces the service to stop without possibility of restart.
func (sr *ServiceRecord) UnrecoverableStop() {
	sr.desired = StateStopped
	sr.ForcedStop()
}

func (sr *ServiceRecord) AddListener(l ServiceListener) {
	sr.listeners = append(sr.listeners, l)
}

func (sr *ServiceRecord) RemoveListener(l ServiceListener) {
	for i, existing := range sr.listeners {
		if existing == l {
			sr.listeners = append(sr.listeners[:i], sr.listeners[i+1:]...)
			return
		}
	}
}

// --- Setters ---

func (sr *ServiceRecord) SetAutoRestart(mode AutoRestartMode) { sr.autoRestart = mode }
func (sr *ServiceRecord) SetSmoothRecovery(v bool)            { sr.smoothRecovery = v }
func (sr *ServiceRecord) SetChainTo(name string)              { sr.chainTo = name }
func (sr *ServiceRecord) SetServiceDscDir(dir string)         { sr.serviceDscDir = dir }
func (sr *ServiceRecord) SetTermSignal(sig syscall.Signal)    { sr.termSignal = sig }

func (sr *ServiceRecord) SetFlags(flags ServiceFlags) { sr.Flags = flags }

func (sr *ServiceRecord) SetSocketDetails(path string, perms int) {
	sr.socketPath = path
	sr.socketPerms = perms
}

func (sr *ServiceRecord) IsMarkedActive() bool    { return sr.startExplicit }
func (sr *ServiceRecord) IsStartPinned() bool     { return sr.pinnedStarted || sr.deptPinnedStarted }
func (sr *ServiceRecord) IsStopPinned() bool      { return sr.pinnedStopped }
func (sr *ServiceRecord) DidStartFail() bool      { return sr.startFailed }
func (sr *ServiceRecord) WasStartSkipped() bool   { return sr.startSkipped }
func (sr *ServiceRecord) IsLoading() bool         { return sr.isLoading }
func (sr *ServiceRecord) HasConsole() bool        { return sr.haveConsole }
func (sr *ServiceRecord) WaitingForConsole() bool { return sr.waitingForConsole }

// Default log buffer implementations (overridden by process-based services)
func (sr *ServiceRecord) GetLogBuffer() *LogBuffer { return nil }
func (sr *ServiceRecord) GetLogType() LogType      { return LogNone }

// Boot timing getters
func (sr *ServiceRecord) StartRequestTime() time.Time { return sr.startRequestTime }
func (sr *ServiceRecord) StartedTime() time.Time      { return sr.startedTime }
func (sr *ServiceRecord) StoppedTime() time.Time      { return sr.stoppedTime }

// StartupDuration returns the time from start request to STARTED state.
// Returns 0 if the service hasn't reached STARTED yet.
func (sr *ServiceRecord) StartupDuration() time.Duration {
	if sr.startedTime.IsZero() || sr.startRequestTime.IsZero() {
		return 0
	}
	return sr.startedTime.Sub(sr.startRequestTime)
}

// IsFundamentallyStopped reports whether the service is effectively idle:
// either fully STOPPED, or STARTING but still blocked on its dependencies.
func (sr *ServiceRecord) IsFundamentallyStopped() bool {
	return sr.state == StateStopped ||
		(sr.state == StateStarting && sr.waitingForDeps)
}

// CanInterruptStop reports whether a STOPPING service may go straight back
// to STARTING instead of completing the stop first.
func (sr *ServiceRecord) CanInterruptStop() bool {
	return sr.waitingForDeps && !sr.forceStop
}

// --- Public control operations ---

// Start records an explicit activation and kicks off the start sequence.
// It is a no-op while the service is pinned stopped.
func (sr *ServiceRecord) Start() {
	if sr.pinnedStopped {
		return
	}

	if !sr.startExplicit {
		sr.requiredBy++
		sr.startExplicit = true
	}

	sr.beginStart()
}

// Stop clears any explicit activation and, once nothing else holds the
// service up, schedules it to stop.
func (sr *ServiceRecord) Stop(bringDown bool) {
	if sr.startExplicit {
		sr.startExplicit = false
		sr.requiredBy--
	}

	if bringDown || sr.requiredBy == 0 {
		sr.desired = StateStopped
	}

	if sr.IsStartPinned() {
		return
	}

	if sr.requiredBy == 0 {
		bringDown = true
		if sr.releaseWins() {
			sr.services.AddPropQueue(sr.self)
		}
	}

	if bringDown && sr.state != StateStopped {
		sr.stopReason = ReasonNormal
		sr.beginStop(false)
	}
}

// Restart is only valid from STARTED; it tears the service down and lets
// Stopped() bring it back up. Returns false from any other state.
func (sr *ServiceRecord) Restart() bool {
	if sr.state == StateStarted {
		sr.stopReason = ReasonNormal
		sr.forceStop = true
		sr.beginStop(true)
		return true
	}
	return false
}

// ForcedStop marks this service, and transitively every hard dependent, for
// an unconditional stop that a new start request cannot interrupt.
func (sr *ServiceRecord) ForcedStop() {
	if sr.state != StateStopped {
		sr.forceStop = true
		if !sr.IsStartPinned() {
			sr.pending |= propStop
			sr.services.AddPropQueue(sr.self)
		}
	}
}

// PinStart pins the service in the started state. Hard dependencies are
// transitively pinned too, so the pin can never strand the graph.
func (sr *ServiceRecord) PinStart() {
	if sr.pinnedStarted {
		return
	}
	if !sr.deptPinnedStarted {
		sr.propagatePinToDeps(true)
	}
	sr.pinnedStarted = true
}

// PinStop pins the service in the stopped state.
func (sr *ServiceRecord) PinStop() {
	sr.pinnedStopped = true
}

// Unpin clears both pin kinds and lets any stop/start that was held back by
// the pin proceed.
func (sr *ServiceRecord) Unpin() {
	if sr.pinnedStarted {
		sr.pinnedStarted = false

		if !sr.deptPinnedStarted {
			sr.propagatePinToDeps(false)

			if sr.state == StateStarted {
				if sr.requiredBy == 0 {
					sr.pending |= propRelease
					sr.services.AddPropQueue(sr.self)
				}
				if sr.desired == StateStopped || sr.forceStop {
					sr.beginStop(false)
					sr.services.ProcessQueues()
				}
			}
		}
	}
	sr.pinnedStopped = false
}

// propagatePinToDeps re-evaluates pin propagation on every hard dependency
// whose deptPinnedStarted flag disagrees with the pin state this service is
// moving to, so PinStart/Unpin only wake the edges that might actually
// change (RunPropagation's dependent-pin handler recomputes the real verdict).
func (sr *ServiceRecord) propagatePinToDeps(newPinned bool) {
	for _, dep := range sr.dependsOn {
		if !dep.IsHard() {
			continue
		}
		toRec := dep.To.Record()
		if toRec.deptPinnedStarted == newPinned {
			continue
		}
		toRec.pending |= propPinDpt
		sr.services.AddPropQueue(dep.To)
	}
}

// Require increments the activation count; a service transitioning from 0
// holders schedules a start.
func (sr *ServiceRecord) Require() {
	sr.requiredBy++
	if sr.requiredBy != 1 {
		return
	}
	if sr.state != StateStarting && sr.state != StateStarted {
		sr.pending |= propStart
		sr.services.AddPropQueue(sr.self)
	}
}

// Release decrements the activation count and, once it reaches zero, tears
// the service down (unless issueStop is false, e.g. during a chained stop
// where the caller will do that itself).
func (sr *ServiceRecord) Release(issueStop bool) {
	sr.requiredBy--
	if sr.requiredBy != 0 {
		return
	}

	if sr.state == StateStopping && sr.desired == StateStarted && !sr.IsStartPinned() {
		sr.notifyListeners(EventStartCancelled)
	}
	sr.desired = StateStopped

	if sr.IsStartPinned() {
		return
	}

	releasing := sr.releaseWins()
	sr.pending &^= propRequire
	if releasing {
		sr.services.AddPropQueue(sr.self)
	}

	if sr.state != StateStopped && sr.state != StateStopping && issueStop {
		sr.stopReason = ReasonNormal
		sr.beginStop(false)
	}
}

// releaseWins decides the propRelease/propRequire bit given an incoming
// release: a pending require always cancels a release, so the two can never
// both be set going into a drain.
func (sr *ServiceRecord) releaseWins() bool {
	wins := !sr.pending.has(propRequire)
	if wins {
		sr.pending |= propRelease
	} else {
		sr.pending &^= propRelease
	}
	return wins
}

// ReleaseDependencies drops every dependency acquisition this record is
// still holding.
func (sr *ServiceRecord) ReleaseDependencies() {
	for _, dep := range sr.dependsOn {
		if dep.HoldingAcq {
			dep.HoldingAcq = false
			dep.To.Record().Release(true)
		}
	}
}

// RunPropagation drains this record's pending propagation bits in their
// fixed priority: require, release, failure, start, stop, then dependent-pin.
func (sr *ServiceRecord) RunPropagation() {
	if sr.pending.has(propRequire) {
		sr.pending &^= propRequire
		sr.propagateRequire()
	}
	if sr.pending.has(propRelease) {
		sr.pending &^= propRelease
		sr.ReleaseDependencies()
	}
	if sr.pending.has(propFailure) {
		sr.pending &^= propFailure
		sr.stopReason = ReasonDepFailed
		sr.state = StateStopped
		sr.abortStart(true, true)
	}
	if sr.pending.has(propStart) {
		sr.pending &^= propStart
		sr.beginStart()
	}
	if sr.pending.has(propStop) {
		sr.pending &^= propStop
		sr.beginStop(sr.inUserRestart)
	}
	if sr.pending.has(propPinDpt) {
		sr.pending &^= propPinDpt
		sr.propagateDependentPin()
	}
}

func (sr *ServiceRecord) propagateRequire() {
	for _, dep := range sr.dependsOn {
		if dep.IsOnlyOrdering() {
			continue
		}
		dep.To.Record().Require()
		dep.HoldingAcq = true
	}
}

// propagateDependentPin recomputes whether any hard dependent of this
// service is start-pinned, and if that changed, re-propagates the new
// verdict down this service's own hard dependencies (and may itself stop if
// it lost its last dependent pin while already wanting to).
func (sr *ServiceRecord) propagateDependentPin() {
	deptPin := false
	for _, dept := range sr.dependents {
		if dept.IsHard() && dept.From.Record().IsStartPinned() {
			deptPin = true
			break
		}
	}
	if deptPin == sr.deptPinnedStarted {
		return
	}
	sr.deptPinnedStarted = deptPin
	sr.propagatePinToDeps(deptPin)

	if !sr.deptPinnedStarted && !sr.pinnedStarted && sr.state == StateStarted {
		if sr.desired == StateStopped || sr.forceStop {
			sr.beginStop(false)
		}
	}
}

// RunTransition is the single entry point from the transition queue: it
// checks whether a STARTING service's dependencies are now satisfied, or a
// STOPPING service's dependents have all drained, and advances accordingly.
func (sr *ServiceRecord) RunTransition() {
	switch sr.state {
	case StateStarting:
		if sr.depsSatisfied() {
			sr.waitingForDeps = false
			sr.proceedToStart()
		}
	case StateStopping:
		if sr.dependentsDrained() {
			sr.waitingForDeps = false
			sr.self.BringDown()
		}
	}
}

// --- Internal state machine helpers ---

func (sr *ServiceRecord) notifyListeners(event ServiceEvent) {
	for _, l := range sr.listeners {
		l.ServiceEvent(sr.self, event)
	}
}

// beginStart is the common path into starting, reached both from an
// explicit Start() and from a propagated require.
func (sr *ServiceRecord) beginStart() {
	wasActive := sr.state != StateStopped

	if !wasActive {
		sr.startRequestTime = time.Now()
	}

	sr.desired = StateStarted

	if sr.pinnedStopped {
		if !wasActive {
			sr.abortStart(false, false)
		}
		return
	}

	if !wasActive {
		sr.reattachSoftDependents()
	}

	if wasActive {
		if sr.state != StateStopping {
			return
		}
		if !sr.CanInterruptStop() {
			return
		}
		sr.notifyListeners(EventStopCancelled)
	} else {
		sr.services.ServiceActive(sr.self)
		// A pending release is superseded by this start rather than both
		// being queued; the reverse happens in Stop()/Release() via
		// releaseWins().
		wantsRequire := !sr.pending.has(propRelease)
		sr.pending &^= propRelease
		if wantsRequire {
			sr.pending |= propRequire
			sr.services.AddPropQueue(sr.self)
		}
	}

	sr.enterStarting()
}

// reattachSoftDependents re-acquires soft dependents that are themselves
// already starting or started, so a restart of this service doesn't
// silently drop the activation count they contributed before it stopped.
func (sr *ServiceRecord) reattachSoftDependents() {
	for _, dept := range sr.dependents {
		if dept.IsHard() || dept.HoldingAcq {
			continue
		}
		deptState := dept.From.Record().state
		if deptState == StateStarted || deptState == StateStarting {
			dept.HoldingAcq = true
			sr.requiredBy++
		}
	}
}

func (sr *ServiceRecord) enterStarting() {
	sr.startFailed = false
	sr.startSkipped = false
	sr.state = StateStarting
	sr.waitingForDeps = true

	if sr.evalStartDeps() {
		sr.services.AddTransitionQueue(sr.self)
	}
}

// evalStartDeps walks every outgoing edge, marking each one not yet STARTED
// as waited-on and nudging dependencies that aren't already underway, plus
// arming ordering-only dependents of this service. Returns true iff every
// dependency is already STARTED.
func (sr *ServiceRecord) evalStartDeps() bool {
	allStarted := true

	for _, dep := range sr.dependsOn {
		to := dep.To
		if dep.IsOnlyOrdering() && to.State() != StateStarting {
			continue
		}
		if to.State() != StateStarted {
			dep.WaitingOn = true
			allStarted = false
		}
	}

	for _, dept := range sr.dependents {
		if !dept.WaitingOn && dept.IsOnlyOrdering() && dept.From.State() == StateStarting {
			dept.WaitingOn = true
		}
	}

	return allStarted
}

func (sr *ServiceRecord) depsSatisfied() bool {
	for _, dep := range sr.dependsOn {
		if dep.WaitingOn {
			return false
		}
	}
	return true
}

// proceedToStart is reached once every dependency has started; it either
// queues for the console or invokes the collaborator's bring-up hook.
func (sr *ServiceRecord) proceedToStart() {
	if sr.Flags.StartsOnConsole && !sr.haveConsole {
		sr.queueForConsole()
		return
	}

	sr.waitingForDeps = false

	if !sr.self.BringUp() {
		sr.state = StateStopping
		sr.abortStart(false, true)
	}
}

// Started is called by the process-runner collaborator once the service is
// considered up.
func (sr *ServiceRecord) Started() {
	if sr.haveConsole && !sr.Flags.RunsOnConsole {
		sr.releaseConsole()
	}

	sr.startedTime = time.Now()

	if sr.services.bootServiceName != "" && sr.serviceName == sr.services.bootServiceName && sr.services.bootReadyTime.IsZero() {
		sr.services.bootReadyTime = time.Now()
	}

	sr.services.logger.ServiceStarted(sr.serviceName)
	sr.state = StateStarted
	sr.notifyListeners(EventStarted)

	if sr.forceStop || sr.desired == StateStopped {
		sr.beginStop(false)
		return
	}

	for _, dept := range sr.dependents {
		if dept.WaitingOn {
			dept.From.Record().onDependencyReady()
			dept.WaitingOn = false
		}
	}
}

// Stopped is called once the service has actually stopped; it either loops
// back into starting (a restart in progress) or finalizes the stop.
func (sr *ServiceRecord) Stopped() {
	sr.stoppedTime = time.Now()

	if sr.haveConsole {
		sr.releaseConsole()
	}

	sr.forceStop = false

	willRestart := sr.desired == StateStarted && !sr.pinnedStopped

	if !willRestart {
		sr.breakSoftDependents()
	}

	for _, dep := range sr.dependsOn {
		dep.To.Record().onDependentStopped()
	}

	sr.state = StateStopped

	if willRestart {
		sr.enterStarting()
	} else {
		sr.self.BecomingInactive()

		if sr.startExplicit {
			sr.startExplicit = false
			sr.Release(false)
		} else if sr.requiredBy == 0 {
			sr.services.ServiceInactive(sr.self)
		}
	}

	if !sr.startFailed {
		sr.services.logger.ServiceStopped(sr.serviceName)
		sr.maybeChain(willRestart)
	}
	sr.notifyListeners(EventStopped)
}

// breakSoftDependents releases every soft (non-hard) dependent, since this
// service isn't coming back up to satisfy them.
func (sr *ServiceRecord) breakSoftDependents() {
	for _, dept := range sr.dependents {
		if dept.IsHard() {
			continue
		}
		if dept.WaitingOn {
			dept.WaitingOn = false
			dept.From.Record().onDependencyReady()
		}
		if dept.HoldingAcq {
			dept.HoldingAcq = false
			sr.Release(false)
		}
	}
}

// maybeChain starts the configured chain-to service once this one has
// finished on its own (exit code 0, not failed, not restarting), unless the
// set is already shutting down.
func (sr *ServiceRecord) maybeChain(willRestart bool) {
	if sr.chainTo == "" || sr.services.IsShuttingDown() {
		return
	}
	shouldChain := sr.Flags.AlwaysChain ||
		(sr.stopReason.DidFinish() && sr.self.GetExitStatus().Exited() &&
			sr.self.GetExitStatus().ExitCode() == 0 && !willRestart)
	if !shouldChain {
		return
	}
	chainSvc, err := sr.services.LoadService(sr.chainTo)
	if err != nil {
		sr.services.logger.Error("Couldn't chain to service %s: %v", sr.chainTo, err)
		return
	}
	chainSvc.Start()
}

// abortStart handles a start attempt that did not succeed, whether because
// this service's own bring-up failed or because a hard dependency did.
// depFailed distinguishes the latter for logging/stop-reason purposes;
// immediateStop, when false, leaves the service in STARTING/STOPPED limbo
// without an accompanying Stopped() call (used for the pinned-stopped,
// never-was-active case).
func (sr *ServiceRecord) abortStart(depFailed bool, immediateStop bool) {
	sr.desired = StateStopped

	if sr.waitingForConsole {
		sr.services.UnqueueConsole(sr.self)
		sr.waitingForConsole = false
	}

	if sr.startExplicit {
		sr.startExplicit = false
		sr.Release(false)
	}

	for _, dept := range sr.dependents {
		switch dept.DepType {
		case DepRegular, DepMilestone:
			if dept.From.State() == StateStarting {
				deptRec := dept.From.Record()
				deptRec.pending |= propFailure
				sr.services.AddPropQueue(dept.From)
			}
		case DepWaitsFor, DepSoft, DepBefore, DepAfter:
			if dept.WaitingOn {
				dept.WaitingOn = false
				dept.From.Record().onDependencyReady()
			}
		}

		if dept.HoldingAcq {
			dept.HoldingAcq = false
			sr.Release(false)
		}
	}

	sr.startFailed = true
	sr.services.logger.ServiceFailed(sr.serviceName, depFailed)
	sr.notifyListeners(EventFailedStart)
	sr.pinnedStarted = false

	if immediateStop {
		sr.Stopped()
	}
}

// beginStop is the common path into stopping, reached from an explicit
// Stop()/Restart()/ForcedStop() or a propagated stop.
func (sr *ServiceRecord) beginStop(withRestart bool) {
	if sr.IsStartPinned() {
		return
	}

	sr.inAutoRestart = false
	sr.inUserRestart = false

	forRestart, restartDeps := sr.resolveRestart(withRestart)

	if !forRestart && sr.startExplicit {
		sr.startExplicit = false
		sr.Release(false)
	}

	allDepsStopped := sr.cascadeStop(forRestart, restartDeps)

	if sr.state != StateStarted {
		if sr.state != StateStarting {
			return
		}
		if !sr.waitingForDeps && !sr.waitingForConsole {
			if !sr.self.CanInterruptStart() {
				return
			}
			if !sr.self.InterruptStart() {
				sr.notifyListeners(EventStartCancelled)
				return
			}
		} else if sr.waitingForConsole {
			sr.services.UnqueueConsole(sr.self)
			sr.waitingForConsole = false
		}

		sr.notifyListeners(EventStartCancelled)
	}

	sr.state = StateStopping
	sr.waitingForDeps = !allDepsStopped
	if allDepsStopped {
		sr.services.AddTransitionQueue(sr.self)
	}
}

// resolveRestart decides, for a stop not already flagged as a restart,
// whether auto-restart policy turns it into one.
func (sr *ServiceRecord) resolveRestart(withRestart bool) (forRestart bool, restartDeps bool) {
	if withRestart {
		return true, true
	}

	switch {
	case sr.autoRestart == RestartAlways && sr.desired == StateStarted:
		forRestart = sr.self.CheckRestart()
	case sr.autoRestart == RestartOnFailure && sr.desired == StateStarted:
		exitStatus := sr.self.GetExitStatus()
		if exitStatus.Signaled() || (exitStatus.Exited() && exitStatus.ExitCode() != 0) {
			forRestart = sr.self.CheckRestart()
		}
	}
	sr.inAutoRestart = forRestart
	return forRestart, false
}

func (sr *ServiceRecord) onDependencyReady() {
	if (sr.state == StateStarting || sr.state == StateStarted) && sr.waitingForDeps {
		sr.services.AddTransitionQueue(sr.self)
	}
}

func (sr *ServiceRecord) onDependentStopped() {
	if sr.state == StateStopping && sr.waitingForDeps {
		sr.services.AddTransitionQueue(sr.self)
	}
}

func (sr *ServiceRecord) dependentsDrained() bool {
	for _, dept := range sr.dependents {
		if dept.IsHard() && dept.HoldingAcq && !dept.WaitingOn {
			return false
		}
	}
	return true
}

// cascadeStop pushes this stop through every dependent that still holds an
// acquisition on this service: hard dependents are forced toward STOPPED
// (or restarted in place, if this stop is a restart), soft dependents have
// their link broken unless forRestart is set. Returns whether every hard
// dependent has already reached STOPPED.
func (sr *ServiceRecord) cascadeStop(forRestart bool, restartDeps bool) bool {
	allStopped := true

	for _, dept := range sr.dependents {
		if !dept.IsHard() {
			if !forRestart {
				sr.detachSoftDependent(dept)
			}
			continue
		}

		depFrom := dept.From.Record()
		if !depFrom.IsFundamentallyStopped() {
			allStopped = false
		}

		if sr.forceStop {
			if sr.desired == StateStopped {
				depFrom.stopReason = ReasonDepFailed
				depFrom.desired = StateStopped
			}
			depFrom.ForcedStop()
		}

		if dept.From.State() == StateStopped {
			continue
		}

		switch {
		case sr.desired == StateStopped:
			if depFrom.desired != StateStopped {
				depFrom.desired = StateStopped
				if depFrom.startExplicit {
					depFrom.startExplicit = false
					depFrom.Release(true)
				}
				depFrom.pending |= propStop
				sr.services.AddPropQueue(dept.From)
			}
		case restartDeps && dept.From.State() != StateStopping:
			depFrom.stopReason = ReasonDepRestart
			depFrom.inUserRestart = true
			depFrom.pending |= propStop
			sr.services.AddPropQueue(dept.From)
		}
	}

	return allStopped
}

func (sr *ServiceRecord) detachSoftDependent(dept *ServiceDep) {
	if dept.WaitingOn {
		dept.WaitingOn = false
		dept.From.Record().onDependencyReady()
	}
	if dept.HoldingAcq {
		dept.HoldingAcq = false
		sr.Release(false)
	}
}

func (sr *ServiceRecord) queueForConsole() {
	sr.waitingForConsole = true
	sr.services.AppendConsoleQueue(sr.self)
}

func (sr *ServiceRecord) releaseConsole() {
	sr.haveConsole = false
	sr.services.PullConsoleQueue()
}

// ConsoleGranted is called by the console arbiter once this service is at
// the head of the wait queue and the console is free.
func (sr *ServiceRecord) ConsoleGranted() {
	sr.waitingForConsole = false
	sr.haveConsole = true

	switch {
	case sr.state != StateStarting:
		sr.releaseConsole()
	case sr.depsSatisfied():
		sr.proceedToStart()
	default:
		sr.releaseConsole()
	}
}

// AddDep adds a dependency to the service.
func (sr *ServiceRecord) AddDep(to Service, depType DependencyType) *ServiceDep {
	dep := NewServiceDep(sr.self, to, depType)
	sr.dependsOn = append(sr.dependsOn, dep)
	toRec := to.Record()
	toRec.dependents = append(toRec.dependents, dep)

	if !dep.IsOnlyOrdering() {
		wantsHold := depType == DepRegular || to.State() == StateStarted || to.State() == StateStarting
		if wantsHold && (sr.state == StateStarting || sr.state == StateStarted) {
			toRec.Require()
			dep.HoldingAcq = true
		}
	}

	return dep
}

// RmDep removes a dependency of the given type to the given service.
func (sr *ServiceRecord) RmDep(to Service, depType DependencyType) bool {
	for i, dep := range sr.dependsOn {
		if dep.To == to && dep.DepType == depType {
			sr.rmDepByIndex(i)
			return true
		}
	}
	return false
}

func (sr *ServiceRecord) rmDepByIndex(i int) {
	dep := sr.dependsOn[i]
	toRec := dep.To.Record()

	for j, d := range toRec.dependents {
		if d == dep {
			toRec.dependents = append(toRec.dependents[:j], toRec.dependents[j+1:]...)
			break
		}
	}

	if dep.HoldingAcq {
		toRec.Release(true)
	}

	sr.dependsOn = append(sr.dependsOn[:i], sr.dependsOn[i+1:]...)
}

// SetDependents replaces the dependents slice (used during reload to transfer dependents).
func (sr *ServiceRecord) SetDependents(deps []*ServiceDep) {
	sr.dependents = deps
}

// ClearDependencies removes all dependencies without updating the target's dependents.
func (sr *ServiceRecord) ClearDependencies() {
	sr.dependsOn = nil
}
