package eventloop

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/ashgrove/supervisor/pkg/logging"
	"github.com/ashgrove/supervisor/pkg/service"
)

// Default emergency shutdown timeout.
const defaultEmergencyTimeout = 90 * time.Second

// EventLoop is the central event coordinator for supervisord: a single
// select loop over context cancellation, OS signals, and an emergency
// shutdown timer.
type EventLoop struct {
	services *service.ServiceSet
	logger   *logging.Logger
	signals  *SignalWatcher

	// Set to true when shutdown is initiated
	shutdownInitiated bool

	// The type of shutdown requested
	shutdownType service.ShutdownType

	// Set by SetPID1Mode; Run does not read it.
	isPID1 bool

	// emergencyTimer forces the loop to exit if services don't stop
	// within defaultEmergencyTimeout of shutdown being initiated.
	emergencyTimer *ServiceTimer

	// Callback for when all services have stopped
	OnAllStopped func()
}

// New creates a new EventLoop.
func New(services *service.ServiceSet, logger *logging.Logger) *EventLoop {
	return &EventLoop{
		services:       services,
		logger:         logger,
		emergencyTimer: NewServiceTimer(),
	}
}

// SetPID1Mode records whether the supervisor runs as PID 1. Run does not
// consult the flag: the loop does no boot-failure detection of its own and
// does not watch or reap SIGCHLD. SIGINT's PID 1 handling in handleSignal
// checks os.Getpid() directly.
func (el *EventLoop) SetPID1Mode(v bool) {
	el.isPID1 = v
}

// GetShutdownType returns the shutdown type that was requested.
// The caller uses this to determine the appropriate system action
// (reboot, halt, poweroff, soft-reboot, etc.) after Run() returns.
func (el *EventLoop) GetShutdownType() service.ShutdownType {
	return el.shutdownType
}

// Run starts the event loop. It blocks until the context is cancelled,
// a shutdown signal is received and all services stop, or an emergency
// timeout forces exit.
func (el *EventLoop) Run(ctx context.Context) error {
	el.signals = NewSignalWatcher()
	defer el.signals.Stop()

	el.logger.Info("supervisord event loop started (PID %d)", os.Getpid())

	for {
		select {
		case <-ctx.Done():
			el.logger.Info("Context cancelled, shutting down")
			return ctx.Err()

		case <-el.emergencyTimer.Chan():
			el.logger.Error("Emergency shutdown timeout reached, forcing exit")
			return nil

		case sig := <-el.signals.C():
			if el.handleSignal(sig) {
				// Shutdown requested - check if already done
				if el.services.CountActiveServices() == 0 {
					el.logger.Info("All services stopped, exiting")
					return nil
				}
			}
		}

		// Check if all services have stopped
		if el.shutdownInitiated && el.services.CountActiveServices() == 0 {
			el.emergencyTimer.Stop()
			el.logger.Info("All services stopped, exiting")
			if el.OnAllStopped != nil {
				el.OnAllStopped()
			}
			return nil
		}
	}
}

// signalShutdowns maps a received signal to the shutdown it requests.
// SIGINT is handled separately since its meaning depends on whether this
// process is PID 1.
var signalShutdowns = map[syscall.Signal]service.ShutdownType{
	syscall.SIGTERM: service.ShutdownHalt,
	syscall.SIGQUIT: service.ShutdownPoweroff,
}

// handleSignal processes an OS signal. Returns true if shutdown was initiated.
func (el *EventLoop) handleSignal(sig os.Signal) bool {
	sysSignal, ok := sig.(syscall.Signal)
	if !ok {
		return false
	}

	if sysSignal == syscall.SIGINT {
		if os.Getpid() == 1 {
			el.logger.Notice("Received SIGINT (PID 1), initiating reboot")
			el.initiateShutdown(service.ShutdownReboot)
		} else {
			el.logger.Notice("Received SIGINT, initiating shutdown")
			el.initiateShutdown(service.ShutdownHalt)
		}
		return true
	}

	if shutdownType, ok := signalShutdowns[sysSignal]; ok {
		el.logger.Notice("Received %v, initiating shutdown", sysSignal)
		el.initiateShutdown(shutdownType)
		return true
	}

	// SIGHUP could trigger a service reload in the future; SIGCHLD is left
	// to os/exec's own Wait4 handling for children it started — reaping it
	// here would steal exits out from under running ProcessService/BGProcessService
	// monitors and read as an unexpected crash.
	return false
}

// InitiateShutdown triggers a shutdown from outside the event loop (e.g., control socket).
func (el *EventLoop) InitiateShutdown(shutdownType service.ShutdownType) {
	el.initiateShutdown(shutdownType)
}

func (el *EventLoop) initiateShutdown(shutdownType service.ShutdownType) {
	if el.shutdownInitiated {
		return
	}
	el.shutdownInitiated = true
	el.shutdownType = shutdownType
	el.services.StopAllServices(shutdownType)
	el.emergencyTimer.Arm(defaultEmergencyTimeout)
}
