// Package logging provides structured logging for the engine and its CLI.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	NoColor    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "chanlun", "logs", "chanlun.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// NewLoggerWithConfig builds a logger writing to stderr and, when enabled,
// to a rotating file. A log directory that cannot be created disables the
// file output instead of failing.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    cfg.NoColor,
			TimeFormat: time.Kitchen,
		})
	}
	if cfg.File {
		if w, err := rotatingFile(cfg); err == nil {
			writers = append(writers, w)
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func rotatingFile(cfg LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// WithCode adds an instrument code to the logger context.
func WithCode(logger zerolog.Logger, code string) zerolog.Logger {
	return logger.With().Str("code", code).Logger()
}

// WithRunID adds an analysis run id to the logger context.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithStage adds a pipeline stage name to the logger context.
func WithStage(logger zerolog.Logger, stage string) zerolog.Logger {
	return logger.With().Str("stage", stage).Logger()
}

// WithBackend adds a state store backend name to the logger context.
func WithBackend(logger zerolog.Logger, backend string) zerolog.Logger {
	return logger.With().Str("backend", backend).Logger()
}

// LogTransition records a state machine decision. Corrections log at warn.
func LogTransition(logger zerolog.Logger, code, from, proposed, corrected string, valid bool) {
	event := logger.Info()
	msg := "Stroke state advanced"
	if !valid {
		event = logger.Warn()
		msg = "Illegal stroke transition corrected"
	}
	event.
		Str("code", code).
		Str("from", from).
		Str("proposed", proposed).
		Str("to", corrected).
		Msg(msg)
}

// LogStoreCall records the latency of a state store call. Failures log at
// error, successes at debug.
func LogStoreCall(logger zerolog.Logger, backend, operation string, duration time.Duration, err error) {
	if err != nil {
		logger.Error().Err(err).
			Str("backend", backend).
			Str("op", operation).
			Dur("took", duration).
			Msg("State store call failed")
		return
	}
	logger.Debug().
		Str("backend", backend).
		Str("op", operation).
		Dur("took", duration).
		Msg("State store call")
}
