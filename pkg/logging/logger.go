// Package logging implements structured, leveled logging for the supervisor
// daemon and its collaborators, built on go-kit's logfmt logger.
package logging

import (
	"fmt"
	"os"

	kitlog "github.com/go-kit/log"
)

// Level represents the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelNotice:
		return "notice"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger provides structured logging for the supervisor. Every line carries
// "ts" and "level" keys under logfmt, keeping output machine-parseable
// instead of the free-form "[time] LEVEL: msg" lines a bare fmt.Fprintf
// logger would produce.
type Logger struct {
	base  kitlog.Logger
	level Level
}

// New creates a new Logger with the specified minimum level, logging to
// stderr in logfmt.
func New(level Level) *Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)
	return &Logger{base: base, level: level}
}

// SetLevel changes the minimum logging level.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.base.Log("level", level.String(), "msg", fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) { l.emit(LevelDebug, format, args...) }

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) { l.emit(LevelInfo, format, args...) }

// Notice logs at notice level.
func (l *Logger) Notice(format string, args ...interface{}) { l.emit(LevelNotice, format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) { l.emit(LevelWarn, format, args...) }

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) { l.emit(LevelError, format, args...) }

// ServiceStarted logs a service reaching STARTED. Satisfies the narrow
// service.ServiceLogger contract consumed by the core state machine.
func (l *Logger) ServiceStarted(name string) {
	if LevelInfo < l.level {
		return
	}
	l.base.Log("level", LevelInfo.String(), "event", "started", "service", name)
}

// ServiceStopped logs a service reaching STOPPED.
func (l *Logger) ServiceStopped(name string) {
	if LevelInfo < l.level {
		return
	}
	l.base.Log("level", LevelInfo.String(), "event", "stopped", "service", name)
}

// ServiceFailed logs a service failing to start.
func (l *Logger) ServiceFailed(name string, depFailed bool) {
	if LevelError < l.level {
		return
	}
	l.base.Log("level", LevelError.String(), "event", "failedstart", "service", name, "dep_failed", depFailed)
}
