// Package logging holds the process-wide structured logger for UTA.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	logger  *slog.Logger
	logFile *os.File
	mu      sync.RWMutex
)

func init() {
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Level represents a logging level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel parses a level string to Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func (l Level) slogLevel() slog.Level {
	switch ParseLevel(string(l)) {
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

// Configure replaces the global logger. A nil writer means stderr.
func Configure(level Level, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level.slogLevel(),
	}))
}

// EnableFileLogging sends logs to uta.log in dir. Used while the TUI owns
// the terminal.
func EnableFileLogging(dir string, level Level) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "uta.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f

	logger = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: level.slogLevel(),
	}))
	return nil
}

// Discard drops all log output.
func Discard() {
	Configure(LevelError, io.Discard)
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Logger returns the underlying slog.Logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a new logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// OrDefault returns l, or the global logger when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
