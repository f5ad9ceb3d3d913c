// Package logging configures the process-wide slog logger and manages
// the rotating log directory.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the on-disk log file.
const (
	maxSizeMB  = 10
	maxBackups = 5
)

// Setup installs the default slog logger. Logs always go to stderr;
// when dir is non-empty they are additionally written to a rotating
// JSON file under it. Returns a close function for the file sink.
func Setup(dir, level string) (func() error, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "finbrief.log"),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closeFn = rotator.Close
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))

	return closeFn, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// PruneOldLogs removes rotated log files whose modification time is
// older than maxAge. The active log file is never removed. Returns the
// number of files deleted.
func PruneOldLogs(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "finbrief.log" {
			continue
		}
		if !strings.HasPrefix(entry.Name(), "finbrief") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				slog.Warn("Failed to remove old log file", "file", entry.Name(), "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
