// Package monitoring is the glasses client's sole logging surface: a
// package-level, injectable printf-style logger, built on the stdlib
// log package the way the rest of this module's top-level wiring does
// rather than a third-party logging framework (no example repo in the
// corpus imports one).
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

// Infof logs a routine lifecycle event (state transitions, connect/close).
func Infof(format string, v ...interface{}) {
	Logf("INFO "+format, v...)
}

// Warnf logs a non-fatal anomaly (a recoverable error, a rejected command).
func Warnf(format string, v ...interface{}) {
	Logf("WARN "+format, v...)
}

// Errorf logs a fatal subsystem error that is about to terminate a session.
func Errorf(format string, v ...interface{}) {
	Logf("ERROR "+format, v...)
}
