// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for FeatureScope
// components.
//
// The package is a thin layer over Go's standard slog:
//
//   - Default: stderr output for CLI compatibility, human-readable
//     text when stderr is a terminal, JSON otherwise
//   - Optional: file logging with automatic directory creation,
//     always JSON
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("classifying batch", "dataset_id", datasetID)
//
// Long-lived processes should install the logger globally so package
// level slog calls inherit the configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.featurescope/logs",
//	    Service: "featurescope",
//	})
//	defer logger.Close()
//	logger.Install()
//
// This creates log files named `{service}_{date}.log` in JSON format.
//
// # Thread Safety
//
// Logger is safe for concurrent use; the underlying slog.Logger is
// thread-safe and Close is idempotent.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure tokens and secrets are not logged.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level's lowercase name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a config string to a Level. Unknown strings map to
// LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum severity emitted.
	Level Level

	// Service names the component, used in file names and as a base
	// attribute on every record. Default: "featurescope".
	Service string

	// LogDir enables file logging when non-empty. Supports a leading
	// "~" for the user home directory. The directory is created if
	// missing; file logging is skipped (with a stderr warning) when
	// creation fails.
	LogDir string

	// ForceJSON emits JSON to stderr even on a terminal. Used when
	// output is scraped by a collector.
	ForceJSON bool
}

// Logger wraps slog with multi-destination output.
type Logger struct {
	slog    *slog.Logger
	mu      sync.Mutex
	logFile *os.File
	closed  bool
}

// New creates a Logger from a config.
//
// Stderr always receives records: text format on a terminal, JSON
// otherwise. When LogDir is set, a `{service}_{date}.log` JSON file is
// added as a second destination.
func New(config Config) *Logger {
	service := config.Service
	if service == "" {
		service = "featurescope"
	}
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var stderrHandler slog.Handler
	if !config.ForceJSON && isatty.IsTerminal(os.Stderr.Fd()) {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := &Logger{}
	handlers := []slog.Handler{stderrHandler}

	if config.LogDir != "" {
		if file, err := openLogFile(config.LogDir, service); err != nil {
			fmt.Fprintf(os.Stderr, "logging: file logging disabled: %v\n", err)
		} else {
			logger.logFile = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	logger.slog = slog.New(handler).With("service", service)
	return logger
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a Logger carrying additional base attributes. The
// derived logger shares this logger's destinations; only Close on the
// parent releases the log file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Slog exposes the underlying slog.Logger for APIs that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Install makes this logger the process-wide slog default, so package
// level slog.Info etc. flow through the configured destinations.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Close flushes and closes the log file, if any. Idempotent.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.logFile == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	if err := l.logFile.Sync(); err != nil {
		l.logFile.Close()
		return fmt.Errorf("logging: sync log file: %w", err)
	}
	return l.logFile.Close()
}

// openLogFile creates the log directory and opens today's service log
// for appending.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// multiHandler fans records out to every destination. A record is
// emitted to each handler whose own level admits it.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// expandPath expands a leading "~" to the user home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(home, path[2:])
	}
	return path
}
