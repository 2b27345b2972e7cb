package rhi

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// LoggerSetter is implemented by backends that keep their own logger
// (for example a HAL driver logger) in sync with the rhi logger.
type LoggerSetter interface {
	SetLogger(*slog.Logger)
}

var (
	sinksMu sync.Mutex
	sinks   []LoggerSetter
)

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for rhi and every backend.
// By default rhi produces no log output. Pass nil to restore silence.
//
// Log levels used by rhi:
//   - [slog.LevelDebug]: resource, command buffer and submission lifecycle
//   - [slog.LevelInfo]: adapter, device and swap chain lifecycle
//   - [slog.LevelWarn]: non-fatal backend failures (present errors, HAL cleanup)
//
// Example:
//
//	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	sinksMu.Lock()
	targets := append([]LoggerSetter(nil), sinks...)
	sinksMu.Unlock()
	for _, s := range targets {
		s.SetLogger(l)
	}
}

// Logger returns the current logger. Backends call it instead of keeping a
// copy so that SetLogger takes effect immediately.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// PropagateLogger registers s to receive every future SetLogger call and
// hands it the current logger right away.
func PropagateLogger(s LoggerSetter) {
	sinksMu.Lock()
	sinks = append(sinks, s)
	sinksMu.Unlock()
	s.SetLogger(Logger())
}
