// Package logging configures the kernel's structured logger.
//
// Console mode writes human-readable colorized output (detecting TTY via
// mattn/go-isatty); daemon mode writes newline-delimited JSON to a rotating
// file managed by lumberjack. Call Init once at process startup; components
// receive the logger explicitly (their WithLogger methods), not through a
// package global, so tests can install their own sink.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Init.
type Options struct {
	// Level is a zerolog level name: "debug", "info", "warn", "error".
	Level string
	// FilePath, when non-empty, routes logs to a rotating file instead of
	// stderr. Used by the daemon; the CLI leaves this empty.
	FilePath string
	// MaxSizeMB caps a single rotated log file before lumberjack rolls it.
	MaxSizeMB int
	// MaxBackups caps how many rotated files lumberjack retains.
	MaxBackups int
	// MaxAgeDays caps how long rotated files are retained.
	MaxAgeDays int
}

// Init builds the root logger for the process and returns it. It does not
// mutate any global beyond zerolog's package-level TimeFieldFormat, which is
// set to RFC3339 with millisecond precision to satisfy the kernel's UTC-ISO8601 timestamp discipline.
func Init(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if opts.FilePath != "" {
		out = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxOr(opts.MaxSizeMB, 50),
			MaxBackups: maxOr(opts.MaxBackups, 5),
			MaxAge:     maxOr(opts.MaxAgeDays, 30),
			Compress:   true,
		}
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
