// Package logger provides a structured zerolog logger for probe-client.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvVar names the environment variable that overrides the configured log level.
const EnvVar = "PROBE_CLIENT_LOG"

// Level returns the effective log level: the value of PROBE_CLIENT_LOG when
// set, otherwise the configured level.
func Level(configured string) string {
	if v := strings.TrimSpace(os.Getenv(EnvVar)); v != "" {
		return v
	}
	return configured
}

// Init creates and returns a zerolog.Logger configured with the given log level.
// Supported levels: trace, debug, info, warn, error. Defaults to info.
func Init(level string) zerolog.Logger {
	return zerolog.New(
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		},
	).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
