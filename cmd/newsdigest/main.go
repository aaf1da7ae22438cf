package main

import (
	"log/slog"
	"os"
	"strings"
)

func main() {
	if err := execute(&app{}, os.Args[1:]); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// execute runs one command and releases the app's resources whether or not it failed.
func execute(a *app, args []string) error {
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	return root.Execute()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
