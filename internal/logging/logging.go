// Package logging wires the engine's structured logger. It keeps the
// teacher's env-var gating of log verbosity (pkg/logger.Printf used to be
// silent outside Lambda/debug mode) but replaces the bracket-tag Printf
// wrapper with leveled, field-structured zerolog output.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. Output is always zerolog's
// human-readable console format on stderr. The level is info by default,
// debug when CLUSTERMGTD_DEBUG is "true", and warn when CLUSTERMGTD_QUIET is
// "true" (CLUSTERMGTD_DEBUG takes precedence).
func New() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("CLUSTERMGTD_DEBUG") == "true" {
		level = zerolog.DebugLevel
	} else if os.Getenv("CLUSTERMGTD_QUIET") == "true" {
		level = zerolog.WarnLevel
	}

	var writer zerolog.ConsoleWriter
	writer = zerolog.NewConsoleWriter()
	writer.Out = os.Stderr
	writer.TimeFormat = "2006-01-02T15:04:05Z07:00"

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// ForPhase returns a child logger tagged with the phase name, the
// structured-logging equivalent of the teacher's "[PHASE_NAME]" prefixes.
func ForPhase(log zerolog.Logger, phase string) zerolog.Logger {
	return log.With().Str("phase", phase).Logger()
}
