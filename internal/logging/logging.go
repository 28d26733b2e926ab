// Package logging builds the originator's slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Stdout is the log file value that selects standard output.
const Stdout = "-"

// Config holds logging settings
type Config struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`

	// File is the log destination. Empty or "-" logs to stdout, anything
	// else is a size-rotated file.
	File string `toml:"-" yaml:"-" json:"-"`

	MaxSizeMB  int `toml:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int `toml:"max_backups" yaml:"max_backups" json:"max_backups"`
}

// DefaultConfig returns text logging at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  50,
		MaxBackups: 3,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// New creates a logger and the closer for its sink.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	sink, closer := openSink(cfg)
	return slog.New(newHandler(sink, cfg.Format, level)), closer, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func openSink(cfg Config) (io.Writer, io.Closer) {
	if cfg.File == "" || cfg.File == Stdout {
		return os.Stdout, nopCloser{}
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	return rotating, rotating
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
