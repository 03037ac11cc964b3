package logging

import "log/slog"

// EnableTrace turns on per-tick and per-sample debug logs. Off by default.
var EnableTrace = false

// Trace logs at DEBUG level when EnableTrace is set.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if EnableTrace {
		logger.Debug(msg, args...)
	}
}

// TraceDefault is Trace on the default logger.
func TraceDefault(msg string, args ...any) {
	if EnableTrace {
		slog.Debug(msg, args...)
	}
}
