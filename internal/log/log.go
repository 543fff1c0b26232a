// Package log implements structured logging: a logrus-backed Logger
// interface plus file/Loki output appenders, consolidated into one
// implementation in place of an earlier duplicate slog-based draft that
// shipped alongside it under the same package with conflicting
// Init/LoggerConfig declarations.
package log

import (
	"io"
	"sync"
)

// Logger is the structured-logging interface every component in this
// rewrite depends on (internal/workers, internal/telemetry, internal/daemon).
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu      sync.Mutex
	logger  Logger
	closers []io.Closer
)

// Get returns the process-wide Logger, falling back to a bare
// stdout/info-level logger if Init was never called (e.g. in unit tests).
func Get() Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newDefaultLogger()
	}
	return logger
}

// Flush closes any file/network log outputs, releasing their buffers.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
	closers = nil
}

func setLogger(l Logger, cs ...io.Closer) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	closers = cs
}
