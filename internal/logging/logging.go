// Package logging builds the zerolog loggers shared by every waybill component.
package logging

import (
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/config"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a logger writing to out (stderr when nil) at the configured level.
func New(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with the component name. A zero
// logger is replaced with a no-op logger.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	if reflect.ValueOf(log).IsZero() {
		return zerolog.Nop()
	}
	return log.With().Str("component", name).Logger()
}

