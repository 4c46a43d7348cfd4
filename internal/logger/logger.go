package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the bridge's operational log. When File is set the log
// is rotated with lumberjack; otherwise it goes to stderr. stdout is never
// a log destination here: it carries the event-channel protocol and a
// stray log line there corrupts the handshake.
type Config struct {
	Level      string `toml:"level" mapstructure:"level"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// New builds the operational logger. File output is plain text; stderr
// output gets level colors for interactive use.
func New(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.File != "" {
		return slog.New(slog.NewTextHandler(c.writer(), opts))
	}
	return slog.New(NewColorTextHandler(os.Stderr, opts, true))
}

func (c Config) writer() io.Writer {
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
