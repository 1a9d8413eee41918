// Package plog is the append-only file diagnostic logger the runtime
// package takes for non-fatal diagnostic output, adapted from the shape the
// teacher's persist.Logger test describes: a *log.Logger wrapping a file
// handle, stamping STARTUP/SHUTDOWN bracket lines, with leveled helpers
// that route into build.Critical/build.Severe for the fatal-in-debug,
// logged-in-release policy the rest of this tree follows.
package plog

import (
	"fmt"
	"io"
	"log"
	"os"

	"gitlab.com/hydranode/hydracore/build"
)

// Logger writes leveled diagnostic lines to an underlying file, the same
// STARTUP/SHUTDOWN-bracketed format persist.Logger uses.
type Logger struct {
	*log.Logger
	file *os.File
}

// NewLogger opens (creating if necessary) filename and returns a Logger
// that appends to it, writing a STARTUP line immediately.
func NewLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		Logger: log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC),
		file:   file,
	}
	l.Output(2, "STARTUP: log file opened")
	return l, nil
}

// Critical logs v and forwards to build.Critical: panics in DEBUG builds,
// a logged-and-continued diagnostic in release.
func (l *Logger) Critical(v ...interface{}) {
	l.Output(2, "CRITICAL: "+fmt.Sprintln(v...))
	build.Critical(v...)
}

// Severe logs v and forwards to build.Severe.
func (l *Logger) Severe(v ...interface{}) {
	l.Output(2, "SEVERE: "+fmt.Sprintln(v...))
	build.Severe(v...)
}

// Debug logs v only when build.DEBUG is set; a no-op diagnostic channel in
// release builds.
func (l *Logger) Debug(v ...interface{}) {
	if !build.DEBUG {
		return
	}
	l.Output(2, "DEBUG: "+fmt.Sprintln(v...))
}

// Close writes a SHUTDOWN line and closes the underlying file.
func (l *Logger) Close() error {
	l.Output(2, "SHUTDOWN: log file closing")
	return l.file.Close()
}

// Writer exposes the underlying file for callers that want to tee other
// output (e.g. a test harness capturing both plog and stdout) into the
// same log file.
func (l *Logger) Writer() io.Writer {
	return l.file
}
