// Package plog provides the application-wide structured logger. It is a thin
// front-end over log/slog with a mutable global level, stdout/stderr level
// dispatch, and colored output when the terminal supports it.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger atomic.Pointer[slog.Logger]

// logLevel is the mutable minimum level shared by all handlers.
var logLevel = new(slog.LevelVar)

// newTerminalHandler returns a tint handler for interactive terminals and a
// plain text handler otherwise, so piped output stays machine-readable.
func newTerminalHandler(w io.Writer, f *os.File) slog.Handler {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return tint.NewHandler(w, &tint.Options{Level: logLevel})
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
}

func init() {
	defaultLogger.Store(slog.New(&LevelDispatchHandler{
		stdoutHandler: newTerminalHandler(os.Stdout, os.Stdout),
		stderrHandler: newTerminalHandler(os.Stderr, os.Stderr),
	}))
}

// SetOutput redirects all log output to the given writer, primarily for testing.
func SetOutput(w io.Writer) {
	defaultLogger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}

// SetLevel adjusts the minimum level emitted by the global logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// LevelFromString maps a configuration string to a slog.Level.
// Unknown values fall back to Info.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Load().Debug(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	defaultLogger.Load().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
