// Package logging configures the process-wide zerolog logger. Every other
// package logs via github.com/rs/zerolog/log's global logger and the
// pervasive `log.Debug().Str(...).Msg(...)` idiom; this package only owns
// the one-time setup (level, writer).
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog's global logger for either human-readable
// console output (dev) or structured JSON (prod), and returns it.
func Setup(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writer = os.Stdout
	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(writer).With().Timestamp().Logger()
	}
	l = l.Level(parseLevel(level))
	log.Logger = l
	return l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
