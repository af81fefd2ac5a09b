package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger: a console writer on stderr plus a JSON
// log file under the data dir. The level comes from STREAMD_LOG_LEVEL, then
// the preference, then "info". The returned closer flushes the log file.
func NewLogger(prefs Preferences) (zerolog.Logger, func()) {
	level := zerolog.InfoLevel
	raw := strings.TrimSpace(os.Getenv("STREAMD_LOG_LEVEL"))
	if raw == "" {
		raw = prefs.LogLevel
	}
	if raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}

	writers := []io.Writer{console}
	closer := func() {}
	if dir, err := DataDir(); err == nil {
		path := filepath.Join(dir, "streamd.log")
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
			writers = append(writers, f)
			closer = func() { f.Close() }
		}
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return log, closer
}
