package nonblock

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// boundLogger prepends a fixed set of key-value pairs to every call.
type boundLogger struct {
	l    Logger
	args []any
}

// withArgs returns a Logger that always logs args along with the call's own.
func withArgs(l Logger, args ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(args...)
	}
	return &boundLogger{l: l, args: args}
}

func (b *boundLogger) merge(args []any) []any {
	all := make([]any, 0, len(b.args)+len(args))
	return append(append(all, b.args...), args...)
}

func (b *boundLogger) Debug(msg string, args ...any) { b.l.Debug(msg, b.merge(args)...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.l.Info(msg, b.merge(args)...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.l.Warn(msg, b.merge(args)...) }
func (b *boundLogger) Error(msg string, args ...any) { b.l.Error(msg, b.merge(args)...) }
