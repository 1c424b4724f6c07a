// Package rblog is the service's structured logger: a thin zerolog wrapper
// that replaces the teacher CLI's plain fmt.Fprintf(os.Stderr, ...) calls
// with leveled, field-scoped logging suited to a multi-session service
// where log lines need to correlate by session id and client id.
package rblog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the handful of helpers the rest of the
// service uses to scope a logger to a session or client.
type Logger struct {
	zerolog.Logger
}

var base Logger

func init() {
	Setup(false)
}

// Setup (re)configures the package-level base logger. pretty selects a
// human-readable console writer (for local/dev use); otherwise JSON lines
// are written to stdout, suitable for container log collection.
func Setup(pretty bool) {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	base = Logger{zerolog.New(w).With().Timestamp().Logger()}
}

// Base returns the process-wide base logger.
func Base() Logger { return base }

// WithSession scopes the logger to a session id.
func (l Logger) WithSession(sessionID string) Logger {
	return Logger{l.With().Str("session", sessionID).Logger()}
}

// WithClient scopes the logger to a client connection id.
func (l Logger) WithClient(clientID string) Logger {
	return Logger{l.With().Str("client", clientID).Logger()}
}

// SetLevel sets the minimum level for the base logger.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
