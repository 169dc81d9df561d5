// Package logging configures the process-wide zerolog logger. Every
// package logs through log.Logger (github.com/rs/zerolog/log) rather
// than the standard library log package, with a "component" field
// added by With when a package wants a scoped sub-logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global zerolog level and output writer. In "dev" or
// "development" mode (case-insensitive) it uses a human-readable
// console writer for local development; any other mode, including an
// empty one, writes newline-delimited JSON to stdout, the shape a
// cluster's log collector expects.
func Init(level, mode string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out = os.Stdout
	if strings.EqualFold(mode, "dev") || strings.EqualFold(mode, "development") {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
			With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with the given component name,
// used by each agent and adapter to identify itself in log output.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
