// Package monitoring carries the process-wide diagnostic logger used by the
// ingestion pipeline. Transports and the coordinator log through Logf so a
// test or embedding application can mute or capture output.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Prefixed returns a logger that prepends a fixed subsystem tag, for callers
// that share Logf but want attributable lines.
func Prefixed(tag string) func(format string, v ...any) {
	return func(format string, v ...any) {
		Logf(tag+": "+format, v...)
	}
}
