// Package logging sets up the process-wide structured logger. engramd
// is a long-running server, not a one-shot CLI, so logs go to a
// rotating file under the project's .engram directory rather than
// stdout, which is reserved for the dispatcher's JSON responses.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a slog.Logger writing JSON lines to
// <projectRoot>/.engram/engramd.log, rotated at 10MB with 5 backups kept.
// If the directory cannot be created, it falls back to stderr so startup
// never fails because of a logging problem.
func New(projectRoot string) *slog.Logger {
	dir := filepath.Join(projectRoot, ".engram")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "engramd.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// BestEffort logs err at Warn and swallows it, for the best-effort
// subsystems named in the error handling design: git commands, FS mtime
// probes, pending-work updates, broadcast access.
func BestEffort(log *slog.Logger, op string, err error) {
	if err == nil {
		return
	}
	log.Warn("best-effort operation failed", "op", op, "error", err)
}
