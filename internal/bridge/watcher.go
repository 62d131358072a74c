package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"streambridge/internal/rtc"
)

// Notifier receives lifecycle announcements for interested parties, such as
// a signalling server broadcasting playout availability to connected peers.
type Notifier interface {
	StreamStarted(status StreamStatus)

	// PlayoutReady fires once per session when the playlist first becomes
	// fetchable.
	PlayoutReady(status StreamStatus)

	StreamStopped(producerID string)
}

// Watcher polls the engine's producer list and reconciles it against the
// orchestrator: new producers get bridged, vanished producers get stopped.
// It exists so the bridge recovers streams even when no explicit start
// request arrives, e.g. after a bridge restart with producers already live.
type Watcher struct {
	engine   rtc.Engine
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger
	notifier Notifier

	announced map[string]struct{}
}

// NewWatcher builds a watcher. notifier may be nil.
func NewWatcher(engine rtc.Engine, orch *Orchestrator, interval time.Duration, logger *slog.Logger, notifier Notifier) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		engine:    engine,
		orch:      orch,
		interval:  interval,
		logger:    logger.With("component", "watcher"),
		notifier:  notifier,
		announced: make(map[string]struct{}),
	}
}

// Run reconciles once immediately, then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	producers, err := w.engine.Producers(ctx)
	if err != nil {
		w.logger.Warn("list producers", "error", err)
		return
	}

	live := make(map[string]struct{}, len(producers))
	for _, producer := range producers {
		if producer.Kind != rtc.KindAudio && producer.Kind != rtc.KindVideo {
			continue
		}
		live[producer.ID] = struct{}{}
		if _, err := w.orch.Status(producer.ID); err == nil {
			continue
		}
		status, err := w.orch.Start(ctx, producer)
		if err != nil {
			if errors.Is(err, ErrAlreadyStarted) {
				continue
			}
			w.logger.Error("start stream", "producer_id", producer.ID, "error", err)
			continue
		}
		if w.notifier != nil {
			w.notifier.StreamStarted(status)
		}
	}

	for _, status := range w.orch.Streams() {
		if _, ok := live[status.ProducerID]; !ok {
			if err := w.orch.Stop(ctx, status.ProducerID); err != nil {
				w.logger.Warn("stop stream", "producer_id", status.ProducerID, "error", err)
				continue
			}
			delete(w.announced, status.ProducerID)
			if w.notifier != nil {
				w.notifier.StreamStopped(status.ProducerID)
			}
			continue
		}
		// First sighting of a fetchable playlist for this session.
		if status.Ready {
			if _, done := w.announced[status.ProducerID]; !done {
				w.announced[status.ProducerID] = struct{}{}
				if w.notifier != nil {
					w.notifier.PlayoutReady(status)
				}
			}
		}
	}
}
