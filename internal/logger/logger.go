// Package logger provides structured logging setup for Evermind.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/evermind-ai/evermind/internal/config"
)

// asyncBuffer and asyncWorkers size the async handler when enabled.
const (
	asyncBuffer  = 4096
	asyncWorkers = 1
)

// levelVar backs every logger created by New so the level can be
// changed at runtime (config reload).
var levelVar slog.LevelVar

// SetLevel changes the level of all loggers created by New.
func SetLevel(s string) {
	levelVar.Set(parseLevel(s))
}

// New creates a *slog.Logger from the given Logging config. Output is
// JSON to stdout with a "service" attribute on every record. When async
// logging is enabled the returned Closer flushes buffered records;
// otherwise it is a no-op.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	levelVar.Set(parseLevel(cfg.Level))

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &levelVar,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
