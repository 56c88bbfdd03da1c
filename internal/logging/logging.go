package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logger fields
const (
	PACKAGE    = "pkg"
	FUNC       = "func"
	COLLECTION = "collection"
	UID        = "uid"
	PAGE       = "page"
	OP         = "op"
	EVENT      = "event"
	ID         = "id"
	SESSION    = "session"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New configures the global logger. Unknown levels fall back to info.
func New(level string, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger
}

// For returns a logger with pkg={pkg}.
func For(pkg string) zerolog.Logger {
	return log.With().Str(PACKAGE, pkg).Logger()
}
