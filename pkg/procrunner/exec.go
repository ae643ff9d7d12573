package process

import (
	"os"
	"os/exec"
	"syscall"
)

// buildSysProcAttr assembles the process-group and credential settings
// for a child, so it lands in its own process group (for group signaling)
// and runs under the configured UID/GID when one is requested.
func buildSysProcAttr(params ExecParams) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if params.RunAsUID != 0 || params.RunAsGID != 0 {
		attr.Credential = &syscall.Credential{
			Uid: params.RunAsUID,
			Gid: params.RunAsGID,
		}
	}
	return attr
}

// configureStdio wires the child's standard streams according to params:
// either the supervisor's own console, a log-capture pipe, or (the
// default) nothing.
func configureStdio(cmd *exec.Cmd, params ExecParams) {
	switch {
	case params.OnConsole:
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case params.OutputPipe != nil:
		cmd.Stdout = params.OutputPipe
		cmd.Stderr = params.OutputPipe
	}
}

// StartProcess starts a child process with the given parameters.
// It returns the PID and a channel that will receive exactly one ChildExit
// when the process terminates. The caller must read from the channel.
//
// If the command cannot be started at all (e.g., binary not found),
// an error is returned and no channel/PID is produced.
func StartProcess(params ExecParams) (int, <-chan ChildExit, error) {
	if len(params.Command) == 0 {
		return 0, nil, &ExecError{Stage: StageDoExec, Err: os.ErrInvalid}
	}

	cmd := exec.Command(params.Command[0], params.Command[1:]...)

	if params.WorkingDir != "" {
		cmd.Dir = params.WorkingDir
	}
	if len(params.Env) > 0 {
		cmd.Env = append(os.Environ(), params.Env...)
	}

	cmd.SysProcAttr = buildSysProcAttr(params)
	configureStdio(cmd, params)

	if err := cmd.Start(); err != nil {
		return 0, nil, &ExecError{Stage: StageDoExec, Err: err}
	}

	pid := cmd.Process.Pid
	exitCh := make(chan ChildExit, 1)

	go waitAndReport(cmd, pid, exitCh)

	return pid, exitCh, nil
}

// waitAndReport blocks on the child until it exits and reports its wait
// status on exitCh exactly once.
func waitAndReport(cmd *exec.Cmd, pid int, exitCh chan<- ChildExit) {
	defer close(exitCh)

	var status syscall.WaitStatus
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.Sys().(syscall.WaitStatus)
		}
	}

	exitCh <- ChildExit{PID: pid, Status: status}
}

// SignalProcess sends a signal to a process. Unless processOnly is set,
// the whole process group is signaled (negative PID), matching the
// Setpgid grouping StartProcess establishes.
func SignalProcess(pid int, sig syscall.Signal, processOnly bool) error {
	if pid <= 0 {
		return nil
	}
	if processOnly {
		return syscall.Kill(pid, sig)
	}
	return syscall.Kill(-pid, sig)
}
