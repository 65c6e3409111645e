// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

const logFileName = "taskmaster.log"

type Config struct {
	DataDir string
	DevMode bool
	// Stderr sends logs to stderr instead of stdout, for commands whose
	// stdout carries a protocol (MCP over stdio).
	Stderr bool
}

// Init installs the default slog logger.
// Outside dev mode logs go to dataDir/taskmaster.log; in dev mode they go
// to the console. LOG_FILE overrides the path, LOG_LEVEL sets the level
// and LOG_FORMAT=json switches to JSON output.
func Init(cfg Config) {
	slog.SetDefault(slog.New(newHandler(cfg)))
}

func newHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var w io.Writer = os.Stdout
	if cfg.Stderr {
		w = os.Stderr
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" && !cfg.DevMode && cfg.DataDir != "" {
		logFile = filepath.Join(cfg.DataDir, logFileName)
	}
	if logFile != "" {
		if f, err := openLogFile(logFile); err != nil {
			slog.Error("failed to open log file, using console", "file", logFile, "error", err)
		} else {
			w = f
		}
	}

	if os.Getenv("LOG_FORMAT") == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRequestLogger returns a logger tagged with a fresh requestId.
func NewRequestLogger() *slog.Logger {
	return slog.With("requestId", uuid.Must(uuid.NewV7()).String())
}

// LogPanic logs a value recovered from a panic together with the stack.
// Call it from a deferred recover.
func LogPanic(recovered any, msg string, args ...any) {
	args = append(args, "panic", fmt.Sprint(recovered), "stack", string(debug.Stack()))
	slog.Error(msg, args...)
}
