// Command bridge runs a stream bridge node: it watches the media engine for
// producers, bridges each one onto a local RTP endpoint, transcodes it to an
// HLS playout, and serves discovery, signalling, playout files, and metrics
// over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"streambridge/internal/api"
	"streambridge/internal/bridge"
	"streambridge/internal/config"
	"streambridge/internal/directory"
	"streambridge/internal/observability/logging"
	"streambridge/internal/observability/metrics"
	"streambridge/internal/playout"
	"streambridge/internal/rtc"
	"streambridge/internal/serverutil"
	signalsrv "streambridge/internal/signal"
	"streambridge/internal/transcode"
)

func main() {
	config.Load()
	cfg, err := config.BridgeFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.New()

	engine, err := rtc.NewHTTPEngine(rtc.HTTPEngineConfig{
		BaseURL: cfg.EngineBaseURL,
		Token:   cfg.EngineToken,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("media engine client", "error", err)
		os.Exit(1)
	}

	store, err := playout.NewStore(cfg.HLSRoot, cfg.PlayoutBase, logger)
	if err != nil {
		logger.Error("playout store", "error", err)
		os.Exit(1)
	}

	var publisher directory.Publisher = directory.NoopPublisher{}
	if cfg.RedisAddr != "" {
		redisPublisher, err := directory.NewRedisPublisher(directory.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.DirectoryTTL,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("stream directory", "error", err)
			os.Exit(1)
		}
		publisher = redisPublisher
	}
	defer publisher.Close()

	supervisor := transcode.NewSupervisor(transcode.Config{
		FFmpegPath:     cfg.FFmpegPath,
		SegmentSeconds: cfg.SegmentSeconds,
		PlaylistLength: cfg.PlaylistLength,
		ManifestGrace:  cfg.ManifestGrace,
		TerminateGrace: cfg.TerminateGrace,
		Logger:         logger,
		Metrics:        recorder,
	})

	orchestrator, err := bridge.New(bridge.Config{
		Engine:       engine,
		Spawner:      supervisor,
		Store:        store,
		Publisher:    publisher,
		Metrics:      recorder,
		Logger:       logger,
		PortBase:     cfg.PortBase,
		PortSpan:     cfg.PortSpan,
		PortAttempts: cfg.PortAttempts,
		DeleteDelay:  cfg.DeleteDelay,
	})
	if err != nil {
		logger.Error("orchestrator", "error", err)
		os.Exit(1)
	}

	signalServer := signalsrv.NewServer(engine, logger)
	watcher := bridge.NewWatcher(engine, orchestrator, cfg.PollInterval, logger, signalServer)

	router := api.NewRouter(api.Config{
		Directory: orchestrator,
		Logger:    logger,
		Metrics:   recorder,
		Signal:    signalServer,
		HLSRoot:   cfg.HLSRoot,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		return serverutil.Run(ctx, serverutil.Config{
			Server: &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			},
			Logger: logger,
		})
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown streams", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("bridge exited", "error", runErr)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}
