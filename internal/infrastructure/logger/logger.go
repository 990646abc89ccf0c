package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Setup builds the process-wide zerolog.Logger from a level name and a
// format ("json" or "console"), threaded through the engine, suspension
// manager, and HTTP layer as a constructor dependency rather than a
// package global — Setup itself is the one place a global is acceptable,
// producing the bootstrap default main wires everywhere else.
func Setup(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writer io.Writer = os.Stdout
	switch strings.ToLower(format) {
	case "console":
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(level))
	return l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
