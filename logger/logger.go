// Package logger configures the process-wide slog logger and offers the
// printf-style helpers used by the HTTP handlers.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"unicode/utf8"
)

const logFileName = "joules.log"

type Config struct {
	DataDir string
	DevMode bool
}

// Init points slog's default logger at <DataDir>/joules.log. In dev mode
// records are also written to stderr as text at debug level. The returned
// func closes the log file.
func Init(cfg Config) (func() error, error) {
	level := slog.LevelInfo
	if cfg.DevMode {
		level = slog.LevelDebug
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	var handler slog.Handler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	if cfg.DevMode {
		handler = fanout{
			handler,
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		}
	}
	slog.SetDefault(slog.New(handler))

	return f.Close, nil
}

func Info(format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
}

// LogPanic records a recovered panic with its stack.
func LogPanic(r any, msg string) {
	slog.Error(msg, "panic", r, "stack", string(debug.Stack()))
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
