package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the global logger for a peer process, tagged with the
// app name and peer id. The level stays whatever logging.Configure set.
func InitLogger(app, peerID string) zerolog.Logger {
	return installLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, app, peerID)
}

func installLogger(out io.Writer, app, peerID string) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Str("app", app).Str("peer_id", peerID).Logger()
	log.Logger = logger
	return logger
}
