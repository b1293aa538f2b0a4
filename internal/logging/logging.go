// Package logging provides the file-backed debug logger shared by taskpilot
// components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger is a slog.Logger bound to a log file. The zero value and a nil
// *Logger are usable and discard everything.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a logger writing text records at level or above to path.
// An empty path returns a no-op logger. Parent directories are created.
func New(path, level string) (*Logger, error) {
	if path == "" {
		return Nop(), nil
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{file: f}
	l.Logger = slog.New(slog.NewTextHandler(&syncWriter{l: l}, &slog.HandlerOptions{Level: lvl}))
	l.Info("log started", "at", time.Now().Format(time.RFC3339))
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// Slog returns the underlying *slog.Logger, never nil.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.Logger
}

// Close closes the log file.
// Safe to call on a nil logger or one without a file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel maps debug, info, warn and error to slog levels.
// The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// syncWriter serializes writes and syncs after each record so the log
// survives a crash. Writes after Close are dropped.
type syncWriter struct {
	l *Logger
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	if w.l.file == nil {
		return len(p), nil
	}
	n, err := w.l.file.Write(p)
	if err == nil {
		w.l.file.Sync()
	}
	return n, err
}

var _ io.Writer = (*syncWriter)(nil)
