// Package log is a minimal wrapper around an io.Writer: a thin shim
// rather than a structured logging framework, since the engine only
// ever needs to emit plain diagnostic lines to a single stream.
package log

import (
	"fmt"
	"io"
)

// Logger writes plain-text diagnostic lines to an underlying io.Writer.
type Logger struct {
	io.Writer
	trace bool
}

// New returns a new Logger which writes to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// SetTrace toggles whether Tracef lines are actually written.
func (l *Logger) SetTrace(on bool) {
	l.trace = on
}

// Logln logs a line.
func (l *Logger) Logln(args ...interface{}) {
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted line.
func (l *Logger) Logf(format string, args ...interface{}) {
	fmt.Fprintf(l, format+"\n", args...)
}

// Warnf logs a formatted line prefixed with "warning: ".
func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(l, "warning: "+format+"\n", args...)
}

// Tracef logs a formatted line only if tracing has been enabled via
// SetTrace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	if !l.trace {
		return
	}
	fmt.Fprintf(l, "trace: "+format+"\n", args...)
}
