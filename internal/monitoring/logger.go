// Package monitoring carries the service's diagnostics: the package-level
// logger every component writes through, and the Prometheus metrics exposed
// on /metrics.
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

// WithPrefix returns a logger that prepends prefix to every message and
// writes through Logf at call time, so later SetLogger calls still apply.
func WithPrefix(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+": "+format, v...)
	}
}
