// winpilot executor - runs next to the target windows and serves the
// command channel
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/velvetkey/winpilot/internal/executor"
	"github.com/velvetkey/winpilot/internal/native"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	url := os.Getenv("SERVER_WS_URL")
	if url == "" {
		url = "ws://127.0.0.1:8765/ws/executor"
	}
	token := os.Getenv("REMOTE_SECRET_TOKEN")
	if token == "" {
		slog.Error("REMOTE_SECRET_TOKEN is required")
		os.Exit(1)
	}

	driver, err := native.NewDriver()
	if err != nil {
		slog.Error("No platform driver available", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Executor starting", "server", url)
	if err := executor.New(url, token, driver).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Executor stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Executor stopped")
}
