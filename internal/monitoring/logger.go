// Package monitoring holds the process-wide diagnostic logger and the
// observer that writes classified crossing events to a log stream.
package monitoring

import "log"

// Logf is the package-level diagnostic logger used by components that have
// no logger of their own. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
