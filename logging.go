package sigberry

import (
	"log/slog"

	"github.com/blockberries/sigberry/internal/observability"
)

// Logger defines the logging interface for sigberry.
// It is designed to be compatible with standard logging libraries
// such as slog, zap, and zerolog.
//
// Implementations must be safe for concurrent use.
type Logger = observability.Logger

// NopLogger is a no-op logger implementation that discards all log messages.
// It is the default logger when no logger is configured.
type NopLogger = observability.NopLogger

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger = observability.SlogLogger

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return observability.NewSlogLogger(l)
}
