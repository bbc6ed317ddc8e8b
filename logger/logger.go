package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/scrapeshifter/goldenrecord/config"
)

// New returns a configured zerolog.Logger. Development environments get
// console-pretty output and debug level; everything else gets level from
// cfg.LogLevel (default info).
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	lvl := zerolog.InfoLevel

	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		lvl = zerolog.DebugLevel
	} else {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}
		if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			lvl = parsed
		}
	}

	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Logger()
}
