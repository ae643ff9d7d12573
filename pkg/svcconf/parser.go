package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ashgrove/supervisor/pkg/service"
)

// ServiceDescription holds the parsed configuration of a service.
type ServiceDescription struct {
	Name string
	Type service.ServiceType

	// Commands
	Command     []string
	StopCommand []string
	WorkingDir  string
	EnvFile     string

	// Dependencies (by name, resolved by the loader)
	DependsOn []string // depends-on (REGULAR)
	DependsMS []string // depends-ms (MILESTONE)
	WaitsFor  []string // waits-for (WAITS_FOR)
	Before    []string // before
	After     []string // after

	// Dependency directories
	DependsOnD []string // depends-on.d
	DependsMSD []string // depends-ms.d
	WaitsForD  []string // waits-for.d

	// Behavior
	AutoRestart    service.AutoRestartMode
	SmoothRecovery bool
	Flags          service.ServiceFlags

	// Logging
	LogType   service.LogType
	LogFile   string
	LogBufMax int

	// Process management
	StopTimeout       time.Duration
	StartTimeout      time.Duration
	RestartDelay      time.Duration
	RestartInterval   time.Duration
	RestartLimitCount int
	TermSignal        syscall.Signal
	PIDFile           string
	ReadyNotification string

	// Credentials
	RunAs string

	// Socket activation
	SocketPath  string
	SocketPerms int

	// Chaining
	ChainTo string

	// Consumer
	ConsumerOf string

	// Description
	Description string
}

// NewServiceDescription creates a ServiceDescription with default values.
func NewServiceDescription(name string) *ServiceDescription {
	return &ServiceDescription{
		Name:        name,
		Type:        service.TypeProcess,
		TermSignal:  syscall.SIGTERM,
		StopTimeout: 10 * time.Second,
		AutoRestart: service.RestartNever,
		SocketPerms: 0600,
	}
}

// ParseError represents an error during service description parsing.
type ParseError struct {
	ServiceName string
	FileName    string
	Line        int
	Setting     string
	Message     string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		if e.Setting != "" {
			return fmt.Sprintf("%s:%d: setting '%s': %s (service: %s)", e.FileName, e.Line, e.Setting, e.Message, e.ServiceName)
		}
		return fmt.Sprintf("%s:%d: %s (service: %s)", e.FileName, e.Line, e.Message, e.ServiceName)
	}
	return fmt.Sprintf("service '%s': %s", e.ServiceName, e.Message)
}

// Parse reads a service description file.
//
// Format:
//   - Lines starting with '#' are comments
//   - Empty lines are ignored
//   - Settings use "key = value" or "key: value" format
//   - Dependency settings use ':' operator
//   - Value settings use '=' operator
func Parse(r io.Reader, name string, fileName string) (*ServiceDescription, error) {
	desc := NewServiceDescription(name)
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		setting, value, op, err := parseLine(trimmed)
		if err != nil {
			return nil, &ParseError{ServiceName: name, FileName: fileName, Line: lineNum, Message: err.Error()}
		}

		if !IsKnownSetting(setting) {
			return nil, &ParseError{ServiceName: name, FileName: fileName, Line: lineNum, Setting: setting, Message: "unknown setting"}
		}

		if !ValidOperator(setting, op) {
			expectedOp := "="
			if KnownSettings[setting]&OpColon != 0 {
				expectedOp = ":"
			}
			return nil, &ParseError{
				ServiceName: name, FileName: fileName, Line: lineNum, Setting: setting,
				Message: fmt.Sprintf("invalid operator, expected '%s'", expectedOp),
			}
		}

		if err := applySetting(desc, setting, value, op); err != nil {
			return nil, &ParseError{ServiceName: name, FileName: fileName, Line: lineNum, Setting: setting, Message: err.Error()}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading service description for %s: %w", name, err)
	}

	return desc, nil
}

// parseLine splits a config line into setting, value, and operator.
func parseLine(line string) (setting string, value string, op OperatorType, err error) {
	if idx := strings.Index(line, "+="); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+2:]), OpPlusEqual, nil
	}

	eqIdx := strings.IndexByte(line, '=')
	colonIdx := strings.IndexByte(line, ':')

	if colonIdx >= 0 && (eqIdx < 0 || colonIdx < eqIdx) {
		return strings.TrimSpace(line[:colonIdx]), strings.TrimSpace(line[colonIdx+1:]), OpColon, nil
	}
	if eqIdx >= 0 {
		return strings.TrimSpace(line[:eqIdx]), strings.TrimSpace(line[eqIdx+1:]), OpEquals, nil
	}

	return "", "", 0, fmt.Errorf("missing operator ('=' or ':')")
}

// settingApplier mutates desc for one recognized setting key.
type settingApplier func(desc *ServiceDescription, value string, op OperatorType) error

func noopSetting(*ServiceDescription, string, OperatorType) error { return nil }

func stringSetting(set func(*ServiceDescription, string)) settingApplier {
	return func(desc *ServiceDescription, value string, _ OperatorType) error {
		set(desc, value)
		return nil
	}
}

func appendSetting(field func(*ServiceDescription) *[]string) settingApplier {
	return func(desc *ServiceDescription, value string, _ OperatorType) error {
		*field(desc) = append(*field(desc), value)
		return nil
	}
}

func durationSetting(field func(*ServiceDescription) *time.Duration) settingApplier {
	return func(desc *ServiceDescription, value string, _ OperatorType) error {
		d, err := parseDuration(value)
		if err != nil {
			return err
		}
		*field(desc) = d
		return nil
	}
}

func intSetting(field func(*ServiceDescription) *int, label string) settingApplier {
	return func(desc *ServiceDescription, value string, _ OperatorType) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", label, err)
		}
		*field(desc) = n
		return nil
	}
}

// settingAppliers dispatches each recognized config key to the function
// that applies it, replacing a monolithic switch with per-setting units
// that can be tested, composed, and extended independently.
var settingAppliers = map[string]settingApplier{
	"type":        applyType,
	"description": stringSetting(func(d *ServiceDescription, v string) { d.Description = v }),
	"command":     stringSetting(func(d *ServiceDescription, v string) { d.Command = splitCommand(v) }),
	"stop-command": stringSetting(func(d *ServiceDescription, v string) { d.StopCommand = splitCommand(v) }),
	"working-dir": stringSetting(func(d *ServiceDescription, v string) { d.WorkingDir = v }),
	"env-file":    stringSetting(func(d *ServiceDescription, v string) { d.EnvFile = v }),

	"depends-on":   appendSetting(func(d *ServiceDescription) *[]string { return &d.DependsOn }),
	"depends-ms":   appendSetting(func(d *ServiceDescription) *[]string { return &d.DependsMS }),
	"waits-for":    appendSetting(func(d *ServiceDescription) *[]string { return &d.WaitsFor }),
	"before":       appendSetting(func(d *ServiceDescription) *[]string { return &d.Before }),
	"after":        appendSetting(func(d *ServiceDescription) *[]string { return &d.After }),
	"depends-on.d": appendSetting(func(d *ServiceDescription) *[]string { return &d.DependsOnD }),
	"depends-ms.d": appendSetting(func(d *ServiceDescription) *[]string { return &d.DependsMSD }),
	"waits-for.d":  appendSetting(func(d *ServiceDescription) *[]string { return &d.WaitsForD }),

	"restart": applyRestart,
	"smooth-recovery": func(desc *ServiceDescription, value string, _ OperatorType) error {
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		desc.SmoothRecovery = b
		return nil
	},

	"stop-timeout":            durationSetting(func(d *ServiceDescription) *time.Duration { return &d.StopTimeout }),
	"start-timeout":           durationSetting(func(d *ServiceDescription) *time.Duration { return &d.StartTimeout }),
	"restart-delay":           durationSetting(func(d *ServiceDescription) *time.Duration { return &d.RestartDelay }),
	"restart-limit-interval":  durationSetting(func(d *ServiceDescription) *time.Duration { return &d.RestartInterval }),
	"restart-limit-count":     intSetting(func(d *ServiceDescription) *int { return &d.RestartLimitCount }, "count"),

	"term-signal": func(desc *ServiceDescription, value string, _ OperatorType) error {
		sig, err := parseSignal(value)
		if err != nil {
			return err
		}
		desc.TermSignal = sig
		return nil
	},

	"logfile": func(desc *ServiceDescription, value string, _ OperatorType) error {
		desc.LogFile = value
		if desc.LogType == service.LogNone {
			desc.LogType = service.LogFile
		}
		return nil
	},
	"log-type":        applyLogType,
	"log-buffer-size": intSetting(func(d *ServiceDescription) *int { return &d.LogBufMax }, "buffer size"),

	"pid-file":           stringSetting(func(d *ServiceDescription, v string) { d.PIDFile = v }),
	"ready-notification": stringSetting(func(d *ServiceDescription, v string) { d.ReadyNotification = v }),
	"run-as":             stringSetting(func(d *ServiceDescription, v string) { d.RunAs = v }),

	"socket-listen": stringSetting(func(d *ServiceDescription, v string) { d.SocketPath = v }),
	"socket-permissions": func(desc *ServiceDescription, value string, _ OperatorType) error {
		perms, err := strconv.ParseInt(value, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid socket permissions: %w", err)
		}
		desc.SocketPerms = int(perms)
		return nil
	},

	"chain-to":    stringSetting(func(d *ServiceDescription, v string) { d.ChainTo = v }),
	"consumer-of": stringSetting(func(d *ServiceDescription, v string) { d.ConsumerOf = v }),

	"options": func(desc *ServiceDescription, value string, op OperatorType) error {
		return applyOptions(desc, value, op == OpPlusEqual)
	},
}

// forwardCompatSettings are recognized but not yet acted upon.
var forwardCompatSettings = []string{
	"load-options", "socket-uid", "socket-gid",
	"rlimit-nofile", "rlimit-core", "rlimit-data", "rlimit-as",
	"cgroup", "nice", "ioprio", "oom-score-adj",
}

func init() {
	for _, key := range forwardCompatSettings {
		settingAppliers[key] = noopSetting
	}
}

// applySetting applies a parsed setting to the service description.
func applySetting(desc *ServiceDescription, setting, value string, op OperatorType) error {
	apply, ok := settingAppliers[setting]
	if !ok {
		return nil
	}
	return apply(desc, value, op)
}

func applyType(desc *ServiceDescription, value string, _ OperatorType) error {
	switch strings.ToLower(value) {
	case "process":
		desc.Type = service.TypeProcess
	case "bgprocess":
		desc.Type = service.TypeBGProcess
	case "scripted":
		desc.Type = service.TypeScripted
	case "internal":
		desc.Type = service.TypeInternal
	case "triggered":
		desc.Type = service.TypeTriggered
	default:
		return fmt.Errorf("unknown service type: %s", value)
	}
	return nil
}

func applyRestart(desc *ServiceDescription, value string, _ OperatorType) error {
	switch strings.ToLower(value) {
	case "yes", "true":
		desc.AutoRestart = service.RestartAlways
	case "no", "false":
		desc.AutoRestart = service.RestartNever
	case "on-failure":
		desc.AutoRestart = service.RestartOnFailure
	default:
		return fmt.Errorf("invalid restart value: %s (expected yes/no/on-failure)", value)
	}
	return nil
}

func applyLogType(desc *ServiceDescription, value string, _ OperatorType) error {
	switch strings.ToLower(value) {
	case "none":
		desc.LogType = service.LogNone
	case "file":
		desc.LogType = service.LogFile
	case "buffer":
		desc.LogType = service.LogToBuffer
	case "pipe":
		desc.LogType = service.LogPipe
	default:
		return fmt.Errorf("unknown log type: %s", value)
	}
	return nil
}

func applyOptions(desc *ServiceDescription, value string, appendMode bool) error {
	if !appendMode {
		desc.Flags = service.ServiceFlags{}
	}
	for _, opt := range strings.Fields(value) {
		switch opt {
		case "runs-on-console":
			desc.Flags.RunsOnConsole = true
		case "starts-on-console":
			desc.Flags.StartsOnConsole = true
		case "shares-console":
			desc.Flags.SharesConsole = true
		case "pass-cs-fd":
			desc.Flags.PassCSFD = true
		case "start-interruptible":
			desc.Flags.StartInterruptible = true
		case "skippable":
			desc.Flags.Skippable = true
		case "signal-process-only":
			desc.Flags.SignalProcessOnly = true
		case "always-chain":
			desc.Flags.AlwaysChain = true
		case "kill-all-on-stop":
			desc.Flags.KillAllOnStop = true
		default:
			return fmt.Errorf("unknown option: %s", opt)
		}
	}
	return nil
}

// splitCommand splits a command string into parts, respecting quotes and
// backslash escapes.
func splitCommand(cmd string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)
	escaped := false

	for i := 0; i < len(cmd); i++ {
		ch := cmd[i]

		switch {
		case escaped:
			current.WriteByte(ch)
			escaped = false
		case ch == '\\':
			escaped = true
		case inQuote:
			if ch == quoteChar {
				inQuote = false
			} else {
				current.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			inQuote = true
			quoteChar = ch
		case ch == ' ' || ch == '\t':
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// parseBool parses a boolean value (yes/true/no/false).
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s (expected yes/no/true/false)", value)
	}
}

// parseDuration parses a duration value in seconds (as a decimal number).
func parseDuration(value string) (time.Duration, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if f < 0 {
		return 0, fmt.Errorf("duration must be non-negative")
	}
	return time.Duration(f * float64(time.Second)), nil
}

// signalNames maps both the canonical SIGxxx spelling and the short form
// to their syscall.Signal value.
var signalNames = map[string]syscall.Signal{
	"SIGHUP": syscall.SIGHUP, "HUP": syscall.SIGHUP,
	"SIGINT": syscall.SIGINT, "INT": syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT, "QUIT": syscall.SIGQUIT,
	"SIGKILL": syscall.SIGKILL, "KILL": syscall.SIGKILL,
	"SIGTERM": syscall.SIGTERM, "TERM": syscall.SIGTERM,
	"SIGUSR1": syscall.SIGUSR1, "USR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2, "USR2": syscall.SIGUSR2,
	"SIGSTOP": syscall.SIGSTOP, "STOP": syscall.SIGSTOP,
	"SIGCONT": syscall.SIGCONT, "CONT": syscall.SIGCONT,
}

// parseSignal parses a signal name or number.
func parseSignal(value string) (syscall.Signal, error) {
	if sig, ok := signalNames[strings.ToUpper(value)]; ok {
		return sig, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("unknown signal: %s", value)
	}
	return syscall.Signal(n), nil
}
