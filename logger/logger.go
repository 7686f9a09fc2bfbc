// Package logger defines the minimal structured logging surface the
// facilitator components write to. The default is silence; callers inject
// the zap-backed implementation or their own.
package logger

// Logger records structured events. Fields are flat key/value pairs;
// components never nest them.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
