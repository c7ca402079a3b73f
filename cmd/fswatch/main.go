package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/fswatch/internal/utils"
)

var rootCmd = newRootCmd()

func main() {
	slog.SetDefault(slog.New(newConsoleHandler(slog.LevelInfo)))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newConsoleHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// setupLogging replaces the default logger. With a log file, records go to both the
// console and the file; the file always gets debug records.
func setupLogging(logFile string, verbose bool) (func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	console := newConsoleHandler(level)

	if logFile == "" {
		slog.SetDefault(slog.New(console))
		return func() {}, nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(console, fileHandler)))

	return func() {
		interceptor.Close()
		file.Close()
	}, nil
}
