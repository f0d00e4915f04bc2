package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Log zerolog.Logger

func init() {
	Log = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel sets the global log level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ForNetwork returns a child logger tagged with the network name. Every
// component owned by a network supervisor logs through one of these so
// interleaved output from concurrent networks stays attributable.
func ForNetwork(name string) zerolog.Logger {
	return Log.With().Str("network", name).Logger()
}
