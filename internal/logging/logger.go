// Package logging provides structured logging for rangepool. It wraps
// log/slog to produce JSON-formatted logs suitable for post-hoc analysis
// of long searches, with size-based rotation for the on-disk log.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger provides structured JSON logging. Safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
	mu     sync.Mutex
	attrs  []slog.Attr
}

// NewLogger creates a Logger writing JSON logs to {dataDir}/rangepool.log
// with size-based rotation. If dataDir is empty, logs go to stderr.
//
// The level parameter controls which messages are logged:
//   - DEBUG: all messages
//   - INFO: Info, Warn, and Error
//   - WARN: Warn and Error
//   - ERROR: only Error
func NewLogger(dataDir string, level string) (*Logger, error) {
	var writer io.Writer
	var closer io.Closer

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		rw, err := NewRotatingWriter(filepath.Join(dataDir, "rangepool.log"), DefaultRotationConfig())
		if err != nil {
			return nil, err
		}
		writer = rw
		closer = rw
	} else {
		writer = os.Stderr
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return &Logger{
		logger: slog.New(handler),
		closer: closer,
		attrs:  make([]slog.Attr, 0),
	}, nil
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithClient returns a child Logger with the pool client ID added to all
// log entries.
func (l *Logger) WithClient(clientID string) *Logger {
	return l.withAttr(slog.String("client_id", clientID))
}

// WithRange returns a child Logger with the range ID added to all log
// entries.
func (l *Logger) WithRange(rangeID string) *Logger {
	return l.withAttr(slog.String("range_id", rangeID))
}

// With returns a child Logger with arbitrary key-value attributes,
// provided as alternating arguments.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}

	return &Logger{
		logger: l.logger,
		closer: l.closer,
		attrs:  newAttrs,
	}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr

	return &Logger{
		logger: l.logger,
		closer: l.closer,
		attrs:  newAttrs,
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close flushes and closes the underlying log file. A no-op for loggers
// writing to stderr.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		err := l.closer.Close()
		l.closer = nil
		return err
	}
	return nil
}

// NopLogger returns a Logger that discards all output. Useful in tests.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		attrs:  make([]slog.Attr, 0),
	}
}
