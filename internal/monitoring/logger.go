// Package monitoring holds the process-wide diagnostic logger used by the
// detection engine, the admission buffer and the feed readers.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs a non-fatal condition worth surfacing: discarded trips, evicted
// or dropped samples.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}
