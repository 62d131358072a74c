// Package bridge orchestrates per-producer media bridges: it leases a local
// UDP port pair, provisions an engine-side plain transport and consumer,
// writes the SDP the transcoder reads, supervises the transcoder process,
// and tracks the whole session in a registry until the producer stops.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streambridge/internal/directory"
	"streambridge/internal/observability/metrics"
	"streambridge/internal/playout"
	"streambridge/internal/rtc"
	"streambridge/internal/transcode"
)

// Spawner starts transcoder processes. *transcode.Supervisor implements it.
type Spawner interface {
	Spawn(ctx context.Context, req transcode.SpawnRequest, handler transcode.Handler) (*transcode.Handle, error)
}

// Config wires the orchestrator's collaborators and port policy.
type Config struct {
	Engine    rtc.Engine
	Spawner   Spawner
	Store     *playout.Store
	Publisher directory.Publisher
	Metrics   *metrics.Recorder
	Logger    *slog.Logger

	// BindIP is the local address the engine forwards RTP to.
	BindIP string

	PortBase     int
	PortSpan     int
	PortAttempts int

	// DeleteDelay defers output directory removal after a stop so in-flight
	// segment fetches can complete.
	DeleteDelay time.Duration

	// ValidatePorts overrides the UDP bind probe. Nil uses ValidatePortPair.
	ValidatePorts func(ip string, rtp, rtcp int) error
}

// StreamStatus is the externally visible snapshot of one session.
type StreamStatus struct {
	ProducerID string `json:"producerId"`
	PeerID     string `json:"peerId,omitempty"`
	Kind       string `json:"kind"`
	State      State  `json:"state"`
	Ready      bool   `json:"ready"`
	PlayoutURL string `json:"playoutUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Orchestrator owns the full lifecycle of producer bridges. All methods are
// safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	alloc    *PortAllocator
	registry *Registry
	logger   *slog.Logger

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New validates the configuration and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("playout store is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = directory.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.BindIP) == "" {
		cfg.BindIP = "127.0.0.1"
	}
	if cfg.PortBase == 0 {
		cfg.PortBase = 20000
	}
	if cfg.PortSpan == 0 {
		cfg.PortSpan = 10000
	}
	if cfg.PortAttempts <= 0 {
		cfg.PortAttempts = 10
	}
	if cfg.DeleteDelay <= 0 {
		cfg.DeleteDelay = 30 * time.Second
	}
	if cfg.ValidatePorts == nil {
		cfg.ValidatePorts = ValidatePortPair
	}
	alloc, err := NewPortAllocator(cfg.PortBase, cfg.PortSpan)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:      cfg,
		alloc:    alloc,
		registry: NewRegistry(),
		logger:   cfg.Logger.With("component", "bridge"),
		inflight: make(map[string]struct{}),
	}, nil
}

// reserve claims the producer id for an in-progress start. It fails when a
// session is already live or another start for the same id is underway.
func (o *Orchestrator) reserve(producerID string) error {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if _, live := o.registry.Get(producerID); live {
		return ErrAlreadyStarted
	}
	if _, starting := o.inflight[producerID]; starting {
		return ErrAlreadyStarted
	}
	o.inflight[producerID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(producerID string) {
	o.inflightMu.Lock()
	delete(o.inflight, producerID)
	o.inflightMu.Unlock()
}

// Start brings up the full pipeline for one producer: port lease, engine
// bridge, SDP file, transcoder process, registry entry, directory
// announcement. On any failure everything created so far is torn down and
// nothing remains registered.
func (o *Orchestrator) Start(ctx context.Context, producer rtc.ProducerInfo) (StreamStatus, error) {
	if producer.Kind != rtc.KindAudio && producer.Kind != rtc.KindVideo {
		return StreamStatus{}, fmt.Errorf("unsupported producer kind %q", producer.Kind)
	}
	if err := o.reserve(producer.ID); err != nil {
		return StreamStatus{}, err
	}
	defer o.release(producer.ID)

	logger := o.logger.With("producer_id", producer.ID, "kind", producer.Kind)

	endpoint, err := o.leaseEndpoint()
	if err != nil {
		o.failed("port_unavailable")
		return StreamStatus{}, err
	}

	sess, err := newBridgeSession(ctx, o.cfg.Engine, producer, endpoint, logger)
	if err != nil {
		o.failed("bridge_setup")
		return StreamStatus{}, err
	}

	dir, err := o.cfg.Store.EnsureOutputDir(producer.ID)
	if err != nil {
		sess.closeBridge(ctx)
		o.failed("output_dir")
		return StreamStatus{}, fmt.Errorf("%w: %w", ErrBridgeSetup, err)
	}
	sess.OutputDir = dir
	sess.SDPPath = filepath.Join(dir, "stream.sdp")

	if err := rtc.WriteSDPFile(sess.SDPPath, endpoint, producer.Kind, sess.consumer.RTPParameters()); err != nil {
		sess.closeBridge(ctx)
		o.removeOutput(producer.ID, logger)
		o.failed("sdp_write")
		return StreamStatus{}, fmt.Errorf("%w: write sdp: %w", ErrBridgeSetup, err)
	}

	handle, err := o.cfg.Spawner.Spawn(ctx, transcode.SpawnRequest{
		StreamID:  producer.ID,
		SDPPath:   sess.SDPPath,
		Kind:      producer.Kind,
		OutputDir: dir,
	}, o.eventHandler(sess, logger))
	if err != nil {
		sess.closeBridge(ctx)
		o.removeOutput(producer.ID, logger)
		o.failed("transcode_spawn")
		return StreamStatus{}, fmt.Errorf("%w: %w", ErrTranscodeSpawn, err)
	}
	sess.handle = handle

	if err := o.registry.Insert(sess); err != nil {
		// Unreachable while the reservation holds, but fail closed.
		o.teardown(ctx, sess, logger)
		return StreamStatus{}, err
	}

	if err := o.cfg.Publisher.Publish(ctx, producer.ID, o.cfg.Store.PlayoutURL(producer.ID)); err != nil {
		logger.Warn("announce stream", "error", err)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionStarted(producer.Kind)
	}
	logger.Info("stream bridged", "endpoint", endpoint.String(), "output_dir", dir)

	return o.statusOf(sess), nil
}

func (o *Orchestrator) leaseEndpoint() (rtc.Endpoint, error) {
	var lastErr error
	for i := 0; i < o.cfg.PortAttempts; i++ {
		rtp, rtcp := o.alloc.Next()
		if err := o.cfg.ValidatePorts(o.cfg.BindIP, rtp, rtcp); err != nil {
			lastErr = err
			continue
		}
		return rtc.Endpoint{IP: o.cfg.BindIP, RTPPort: rtp, RTCPPort: rtcp}, nil
	}
	return rtc.Endpoint{}, fmt.Errorf("%w after %d attempts: %w", ErrPortUnavailable, o.cfg.PortAttempts, lastErr)
}

// eventHandler routes transcoder lifecycle events into logs and, for an exit
// that was not requested via Stop, marks the session failed.
func (o *Orchestrator) eventHandler(sess *Session, logger *slog.Logger) transcode.Handler {
	return func(event transcode.Event) {
		switch ev := event.(type) {
		case transcode.Started:
			logger.Debug("transcoder running")
		case transcode.Progress:
			logger.Debug("transcoder progress", "line", ev.Line)
		case transcode.Diagnostic:
			switch ev.Severity {
			case transcode.SeverityError:
				logger.Warn("transcoder diagnostic", "line", ev.Line)
			default:
				logger.Debug("transcoder diagnostic", "severity", ev.Severity, "line", ev.Line)
			}
		case transcode.Exited:
			if sess.State() == StateStopping {
				return
			}
			err := ev.Err
			if err == nil {
				err = fmt.Errorf("transcoder exited early")
			}
			sess.fail(err)
			o.failed("transcoder_exit")
			logger.Error("transcoder exited while stream live", "error", ev.Err)
		}
	}
}

// Stop tears down the producer's session. Stopping an unknown producer is a
// no-op; concurrent stops race on the registry claim and only the winner
// runs teardown, so Stop is idempotent.
func (o *Orchestrator) Stop(ctx context.Context, producerID string) error {
	sess, ok := o.registry.Remove(producerID)
	if !ok {
		return nil
	}
	logger := o.logger.With("producer_id", producerID)
	o.teardown(ctx, sess, logger)

	if err := o.cfg.Publisher.Unpublish(ctx, producerID); err != nil {
		logger.Warn("withdraw stream", "error", err)
	}
	o.cfg.Store.ScheduleDeletion(producerID, o.cfg.DeleteDelay)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionStopped()
	}
	logger.Info("stream stopped", "delete_after", o.cfg.DeleteDelay)
	return nil
}

// teardown kills the transcoder first so it stops reading from the bridge,
// then closes the engine-side consumer and transport.
func (o *Orchestrator) teardown(ctx context.Context, sess *Session, logger *slog.Logger) {
	sess.setState(StateStopping)
	if sess.handle != nil {
		if err := sess.handle.Terminate(ctx); err != nil {
			logger.Warn("terminate transcoder", "error", err)
		}
	}
	sess.closeBridge(ctx)
}

// removeOutput deletes a partially prepared output directory after a start
// failure so nothing lingers on disk for a stream that never went live.
func (o *Orchestrator) removeOutput(producerID string, logger *slog.Logger) {
	if err := o.cfg.Store.Remove(producerID); err != nil {
		logger.Warn("remove output dir", "error", err)
	}
}

func (o *Orchestrator) failed(reason string) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SessionFailed(reason)
	}
}

// Status reports the session snapshot for one producer, or ErrNotFound.
func (o *Orchestrator) Status(producerID string) (StreamStatus, error) {
	sess, ok := o.registry.Get(producerID)
	if !ok {
		return StreamStatus{}, ErrNotFound
	}
	return o.statusOf(sess), nil
}

func (o *Orchestrator) statusOf(sess *Session) StreamStatus {
	status := StreamStatus{
		ProducerID: sess.ProducerID,
		PeerID:     sess.PeerID,
		Kind:       sess.Kind,
		State:      sess.State(),
	}
	if err := sess.LastErr(); err != nil {
		status.Error = err.Error()
	}
	// Manifest presence, not process health, decides playability.
	if o.cfg.Store.ProbeReady(sess.ProducerID) {
		status.Ready = true
		status.PlayoutURL = o.cfg.Store.PlayoutURL(sess.ProducerID)
	}
	return status
}

// Streams lists all live sessions ordered by producer id.
func (o *Orchestrator) Streams() []StreamStatus {
	sessions := o.registry.List()
	out := make([]StreamStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, o.statusOf(sess))
	}
	return out
}

// Shutdown stops every live session concurrently and cancels the store's
// pending deletions. Output directories are left for the next run to clear.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sess := range o.registry.List() {
		producerID := sess.ProducerID
		g.Go(func() error {
			return o.Stop(ctx, producerID)
		})
	}
	err := g.Wait()
	o.cfg.Store.Close()
	return err
}
