package process

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDResult classifies the outcome of reading a self-backgrounding daemon's
// PID file after its launcher has exited.
type PIDResult int

const (
	// PIDResultOK means the PID was read successfully and the process exists.
	PIDResultOK PIDResult = iota
	// PIDResultFailed means the PID file could not be read or parsed.
	PIDResultFailed
	// PIDResultTerminated means the PID was valid but the process no longer exists.
	PIDResultTerminated
)

// parsePID extracts a positive integer PID from a PID file's first line;
// anything after it (additional metadata some daemons append) is ignored.
func parsePID(content string) (int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, errors.New("PID file is empty")
	}
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}

	pid, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID value: %d", pid)
	}
	return pid, nil
}

// probeAlive checks whether pid is a live process via kill(pid, 0).
func probeAlive(pid int) (PIDResult, error) {
	err := syscall.Kill(pid, 0)
	switch {
	case err == nil:
		return PIDResultOK, nil
	case errors.Is(err, syscall.ESRCH):
		return PIDResultTerminated, nil
	case errors.Is(err, syscall.EPERM):
		// The process exists but belongs to another credential set.
		return PIDResultOK, nil
	default:
		return PIDResultFailed, fmt.Errorf("checking process %d: %w", pid, err)
	}
}

// ReadPIDFile reads a process ID written to path by a daemon's launcher,
// and confirms the process is actually alive.
func ReadPIDFile(path string) (int, PIDResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, PIDResultFailed, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := parsePID(string(data))
	if err != nil {
		return 0, PIDResultFailed, err
	}

	result, err := probeAlive(pid)
	return pid, result, err
}
