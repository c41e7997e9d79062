// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace logs everything, including per-item activity.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every entry as "service" when not empty.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "batchsync",
	}
}

// Setup configures the global zerolog logger. Logs go to stderr by default
// so stdout stays clean for command output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Batch accounting (cursor, next cursor, counts)
//   - Retry backoff decisions
//   - Status board publishes
//
// Info: Normal operation events
//   - Session start and finish
//   - Abort requests (local and remote)
//   - Handler registration
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Preflight rejections (not found, forbidden)
//   - Transport failures that will be retried
//   - Activity log or status board write failures
//   - Duplicate handler registration
//
// Error: Error conditions requiring attention
//   - Failed batches (handler errors, malformed results)
//   - Handler panics and timeouts
//   - Retry exhaustion
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (session, executor, registry, server, ...)
//   - handler: handler id
//   - session_id: session id
//   - batch: 1-based batch number
//   - cursor: cursor the batch started from
//   - duration: batch or session duration
//   - error_class: transport error classification (network, rate_limit, unavailable, server, client)
