// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger so tests can capture or mute output.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Tagged returns a logger that prefixes each message with "[tag] ". The
// package logger is looked up on every call, so a later SetLogger applies.
func Tagged(tag string) func(format string, v ...any) {
	prefix := "[" + tag + "] "
	return func(format string, v ...any) {
		Logf(prefix+format, v...)
	}
}
