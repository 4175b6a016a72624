// Package logger provides a simple structured logger
package logger

import (
	"fmt"
	"log"
	"os"
)

// Logger provides structured logging. fields carries correlation key-value
// pairs (e.g. run_id, worker_id) that every call site attaches via With,
// without having to repeat them at each call.
type Logger struct {
	*log.Logger
	enabled bool
	fields  []interface{}
}

// New creates a new Logger instance
func New() *Logger {
	return &Logger{
		Logger:  log.New(os.Stdout, "[skinarb] ", log.LstdFlags),
		enabled: true,
	}
}

// NewNoop creates a no-op logger for testing
func NewNoop() *Logger {
	return &Logger{
		Logger:  log.New(os.Stdout, "", 0),
		enabled: false,
	}
}

// With returns a derived Logger that prepends kv to every subsequent call's
// key-value pairs. Used to tag a worker goroutine's whole log stream with
// run_id/worker_id once at startup instead of at every call site.
func (l *Logger) With(kv ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(kv))
	merged = append(merged, l.fields...)
	merged = append(merged, kv...)
	return &Logger{Logger: l.Logger, enabled: l.enabled, fields: merged}
}

// Debug logs debug-level messages with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	l.logWithKV("DEBUG", msg, keysAndValues...)
}

// Info logs info-level messages with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	l.logWithKV("INFO", msg, keysAndValues...)
}

// Warn logs warning-level messages with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	l.logWithKV("WARN", msg, keysAndValues...)
}

// Error logs error-level messages with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	if !l.enabled {
		return
	}
	l.logWithKV("ERROR", msg, keysAndValues...)
}

// logWithKV formats and logs messages with key-value pairs
func (l *Logger) logWithKV(level, msg string, keysAndValues ...interface{}) {
	output := level + " " + msg

	all := keysAndValues
	if len(l.fields) > 0 {
		all = make([]interface{}, 0, len(l.fields)+len(keysAndValues))
		all = append(all, l.fields...)
		all = append(all, keysAndValues...)
	}

	for i := 0; i < len(all); i += 2 {
		if i+1 < len(all) {
			output += " " + all[i].(string) + "=" + formatValue(all[i+1])
		}
	}

	l.Println(output)
}

// formatValue formats a value for logging
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int, int32, int64:
		return fmt.Sprint(val)
	case float32, float64:
		return fmt.Sprint(val)
	case error:
		return val.Error()
	default:
		return fmt.Sprint(val)
	}
}
