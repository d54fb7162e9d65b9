package util

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	Logger zerolog.Logger
)

func ParseLevel(inlevel string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(inlevel)) {
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func LogInit(inlevel string) {
	level := ParseLevel(inlevel)
	Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).Level(level).With().Timestamp().Caller().Logger()

	Logger.Info().Msgf("logging initialized at level %v", level)
}

// ComponentLogger hands the strip, animation and device packages a child of
// the global logger. It is captured at construction, so components built
// before a level change keep the old level until they are rebuilt.
func ComponentLogger(name string) *zerolog.Logger {
	l := Logger.With().Str("component", name).Logger()
	return &l
}
