// Package monitoring holds the diagnostic logger shared by library
// packages. Application code logs with the standard log package directly.
package monitoring

import (
	"fmt"
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var current atomic.Value // logFunc

func init() {
	current.Store(logFunc(log.Printf))
}

// Logf writes a diagnostic line through the installed logger. It defaults to
// log.Printf and is safe to call while SetLogger runs.
func Logf(format string, v ...interface{}) {
	current.Load().(logFunc)(format, v...)
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	current.Store(logFunc(f))
}

// Tagged returns a logger that prefixes every line with "[tag] ".
func Tagged(tag string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s] ", tag)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
