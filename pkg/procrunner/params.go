// Package process implements child process execution and monitoring for
// the service supervisor: forking commands, tracking their exit, and
// reading PID files written by self-backgrounding daemons.
package process

import (
	"fmt"
	"os"
	"syscall"
)

// ExecStage identifies the stage at which process setup failed, before the
// target command was actually exec'd.
type ExecStage uint8

const (
	StageArrangeFDs ExecStage = iota
	StageReadEnvFile
	StageSetNotifyFDVar
	StageSetupActivationSocket
	StageSetupControlSocket
	StageChdir
	StageSetupStdio
	StageEnterCgroup
	StageSetRLimits
	StageSetUIDGID
	StageOpenLogFile
	StageSetCaps
	StageSetPrio
	StageDoExec
)

var execStageNames = [...]string{
	StageArrangeFDs:            "arranging file descriptors",
	StageReadEnvFile:           "reading environment file",
	StageSetNotifyFDVar:        "setting environment variable",
	StageSetupActivationSocket: "setting up activation socket",
	StageSetupControlSocket:    "setting up control socket",
	StageChdir:                 "changing directory",
	StageSetupStdio:            "setting up standard input/output",
	StageEnterCgroup:           "entering cgroup",
	StageSetRLimits:            "setting resource limits",
	StageSetUIDGID:             "setting user/group ID",
	StageOpenLogFile:           "opening log file",
	StageSetCaps:               "setting capabilities",
	StageSetPrio:               "setting I/O priority",
	StageDoExec:                "executing command",
}

func (s ExecStage) String() string {
	if int(s) < len(execStageNames) {
		return execStageNames[s]
	}
	return fmt.Sprintf("ExecStage(%d)", s)
}

// ExecError represents a failure during child process setup or exec.
type ExecError struct {
	Stage ExecStage
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("failed while %s: %v", e.Stage, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExecParams holds the parameters for starting a child process.
type ExecParams struct {
	// Command is the program and arguments to execute.
	Command []string

	// WorkingDir is the working directory for the process.
	WorkingDir string

	// Env holds additional environment variables (key=value).
	Env []string

	// RunAsUID/RunAsGID specify credentials to run as (0 means no change).
	RunAsUID uint32
	RunAsGID uint32

	// TermSignal is the signal used to stop the process (default SIGTERM).
	TermSignal syscall.Signal

	// OnConsole indicates the process should inherit the controlling
	// console (stdin/stdout/stderr wired to the supervisor's own).
	OnConsole bool

	// OutputPipe, if set, receives the child's stdout and stderr. Used to
	// feed a LogBuffer for services configured with buffered logging.
	// Mutually exclusive with OnConsole.
	OutputPipe *os.File

	// SignalProcessOnly: if true, signal only the process, not the group.
	SignalProcessOnly bool
}

// ChildExit represents the result of a child process termination.
type ChildExit struct {
	// PID of the terminated process.
	PID int

	// Status is the wait status from the OS.
	Status syscall.WaitStatus

	// ExecErr is set if the process failed during setup (before exec).
	// If nil, the process was exec'd successfully and later terminated.
	ExecErr *ExecError
}

// Exited returns true if the child exited normally.
func (c ChildExit) Exited() bool {
	return c.ExecErr == nil && c.Status.Exited()
}

// ExitedClean returns true if the child exited with code 0.
func (c ChildExit) ExitedClean() bool {
	return c.Exited() && c.Status.ExitStatus() == 0
}

// Signaled returns true if the child was killed by a signal.
func (c ChildExit) Signaled() bool {
	return c.ExecErr == nil && c.Status.Signaled()
}
