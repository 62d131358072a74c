// Command viewer runs a headless consumer session against a bridge node: it
// negotiates capabilities, sets up a receive transport, and attaches to every
// discovered producer, logging playout announcements as they arrive.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"streambridge/internal/config"
	"streambridge/internal/observability/logging"
	signalsrv "streambridge/internal/signal"
	"streambridge/internal/viewer"
)

func main() {
	config.Load()
	cfg, err := config.ViewerFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := signalsrv.Dial(ctx, cfg.ServerURL, logger)
	if err != nil {
		logger.Error("connect to bridge", "url", cfg.ServerURL, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	session, err := viewer.NewSession(viewer.Config{
		Caller: client,
		Device: viewer.HeadlessDevice{},
		Logger: logger,
		Retry: viewer.RetryPolicy{
			MaxAttempts: cfg.AttachMaxAttempts,
			Backoff:     viewer.LinearBackoff(cfg.AttachBackoffStep),
		},
		RediscoverInterval: cfg.RediscoverInterval,
		OnPlayout: func(playout signalsrv.PlayoutAnnouncement) {
			logger.Info("playout ready", "producer_id", playout.ProducerID, "url", playout.PlayoutURL)
		},
	})
	if err != nil {
		logger.Error("viewer session", "error", err)
		os.Exit(1)
	}

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("viewer exited", "error", err)
		os.Exit(1)
	}
	logger.Info("viewer stopped")
}
