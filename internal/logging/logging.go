// Package logging wires up the process-wide slog logger: JSON output when
// stdout is redirected (the normal production case, piped to a log
// collector), human-readable text when attached to an interactive terminal.
package logging

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// Setup installs the default slog logger for levelName ("debug", "info",
// "warn", "error"; unrecognized values fall back to info) and returns it.
func Setup(levelName string) *slog.Logger {
	level := parseLevel(levelName)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(name string) slog.Level {
	switch name {
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
