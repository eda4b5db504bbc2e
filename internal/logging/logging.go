// Package logging builds the slog loggers used across the daemon and CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gobby-stack/gobby/internal/config"
)

// Common attribute keys.
const (
	KeySession   = "session_id"
	KeyWorkflow  = "workflow"
	KeyExecution = "execution_id"
	KeyPipeline  = "pipeline"
)

// NewFromConfig builds the daemon logger. Records always go to stderr and,
// when a log file is configured, are also appended to it. The returned
// closer is nil without a file.
func NewFromConfig(cfg *config.Config, baseDir string) (*slog.Logger, io.Closer, error) {
	level := Level(cfg.Logging.Level)
	path := cfg.LogFile(baseDir)
	if path == "" {
		return New(os.Stderr, cfg.Logging.Format, level), nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(io.MultiWriter(os.Stderr, f), cfg.Logging.Format, level), f, nil
}

// New returns a logger writing format-encoded records at or above level to w.
func New(w io.Writer, format config.LogFormat, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewDefault is the stderr JSON logger used before config is loaded.
func NewDefault() *slog.Logger {
	return New(os.Stderr, config.LogFormatJSON, slog.LevelInfo)
}

// NewForTest discards everything below error.
func NewForTest() *slog.Logger {
	return New(io.Discard, config.LogFormatText, slog.LevelError)
}

// Level maps a configured level name to slog. Unknown names mean info.
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func WithSession(l *slog.Logger, sessionID string) *slog.Logger {
	return l.With(KeySession, sessionID)
}

func WithWorkflow(l *slog.Logger, name string) *slog.Logger {
	return l.With(KeyWorkflow, name)
}

func WithExecution(l *slog.Logger, executionID, pipeline string) *slog.Logger {
	return l.With(KeyExecution, executionID, KeyPipeline, pipeline)
}
