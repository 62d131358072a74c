// Package transcode supervises the external transcoder subprocess that turns
// one bridged RTP stream into a segmented HLS playout.
package transcode

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"streambridge/internal/observability/metrics"
)

// Config controls how the supervisor builds and runs transcoder processes.
type Config struct {
	FFmpegPath     string
	SegmentSeconds int
	PlaylistLength int

	// ManifestGrace bounds how long a fresh stream may go without a manifest
	// before a minimal empty one is written.
	ManifestGrace time.Duration

	// TerminateGrace bounds the wait between the interrupt signal and the
	// forceful kill during Terminate.
	TerminateGrace time.Duration

	// ProgressSampleEvery keeps one in N progress lines; the rest are dropped.
	ProgressSampleEvery int

	// IdleWarnAfter is how long the process may go silent before a warning is
	// logged. The process is left running; a stalled encoder still exits on
	// its own or via Terminate.
	IdleWarnAfter time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Supervisor spawns and monitors transcoder subprocesses. One Handle is
// produced per spawned process; the caller owns its termination.
type Supervisor struct {
	cfg Config
}

// NewSupervisor normalises the configuration and returns a Supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.ManifestGrace <= 0 {
		cfg.ManifestGrace = 10 * time.Second
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = 5 * time.Second
	}
	if cfg.ProgressSampleEvery <= 0 {
		cfg.ProgressSampleEvery = 30
	}
	if cfg.IdleWarnAfter <= 0 {
		cfg.IdleWarnAfter = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{cfg: cfg}
}

// SpawnRequest identifies the stream and input/output locations for one
// transcoder process.
type SpawnRequest struct {
	StreamID  string
	SDPPath   string
	Kind      string
	OutputDir string
}

// Spawn builds the invocation and starts the transcoder. Lifecycle events are
// delivered to handler from a single monitoring goroutine until Exited is
// emitted. A spawn failure is returned to the caller and emits no events.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest, handler Handler) (*Handle, error) {
	plan, err := BuildPlan(PlanRequest{
		SDPPath:        req.SDPPath,
		Kind:           req.Kind,
		OutputDir:      req.OutputDir,
		SegmentSeconds: s.cfg.SegmentSeconds,
		PlaylistLength: s.cfg.PlaylistLength,
	})
	if err != nil {
		return nil, err
	}
	if handler == nil {
		handler = func(Event) {}
	}
	logger := s.cfg.Logger.With("stream_id", req.StreamID)

	cmd := exec.Command(s.cfg.FFmpegPath, plan.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.cfg.FFmpegPath, err)
	}

	handle := &Handle{
		streamID: req.StreamID,
		cmd:      cmd,
		grace:    s.cfg.TerminateGrace,
		done:     make(chan struct{}),
		logger:   logger,
	}

	s.emit(handler, Started{Args: plan.Args})
	logger.Info("transcoder started", "pid", cmd.Process.Pid, "invocation", strings.Join(plan.Args, " "))

	segment := s.cfg.SegmentSeconds
	handle.manifestTimer = time.AfterFunc(s.cfg.ManifestGrace, func() {
		if err := WriteEmptyManifest(plan.Playlist, segment); err != nil {
			logger.Warn("write placeholder manifest", "error", err)
			return
		}
		logger.Warn("no manifest after grace period, placeholder written", "grace", s.cfg.ManifestGrace)
	})

	var lastOutput atomic.Int64
	lastOutput.Store(time.Now().UnixNano())

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		sampled := 0
		for scanner.Scan() {
			lastOutput.Store(time.Now().UnixNano())
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if isProgressLine(line) {
				sampled++
				if sampled%s.cfg.ProgressSampleEvery == 0 {
					s.emit(handler, Progress{Line: line})
				}
				continue
			}
			s.emit(handler, Diagnostic{Severity: classifyLine(line), Line: line})
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.IdleWarnAfter)
		defer ticker.Stop()
		for {
			select {
			case <-scanDone:
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, lastOutput.Load()))
				if idle >= s.cfg.IdleWarnAfter {
					logger.Warn("transcoder produced no output", "idle", idle.Round(time.Second))
				}
			}
		}
	}()

	go func() {
		<-scanDone
		err := cmd.Wait()
		handle.manifestTimer.Stop()
		handle.exitErr = err
		s.emit(handler, Exited{Err: err})
		close(handle.done)
	}()

	return handle, nil
}

func (s *Supervisor) emit(handler Handler, event Event) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TranscoderEvent(event.Kind())
	}
	handler(event)
}

// isProgressLine recognises the encoder's steady-state status output.
func isProgressLine(line string) bool {
	if strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=") {
		return true
	}
	return strings.Contains(line, "time=") && strings.Contains(line, "bitrate=")
}

// classifyLine buckets a diagnostic line into a severity by content.
func classifyLine(line string) Severity {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "[fatal]"),
		strings.Contains(lower, "[error]"),
		strings.Contains(lower, "error"),
		strings.Contains(lower, "failed"),
		strings.Contains(lower, "invalid"),
		strings.Contains(lower, "cannot"),
		strings.Contains(lower, "no such"):
		return SeverityError
	case strings.Contains(lower, "[warning]"),
		strings.Contains(lower, "warning"),
		strings.Contains(lower, "deprecated"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Handle owns one running transcoder process. It is killed exactly once via
// Terminate; terminating an already-exited process is a no-op.
type Handle struct {
	streamID      string
	cmd           *exec.Cmd
	grace         time.Duration
	done          chan struct{}
	exitErr       error
	manifestTimer *time.Timer
	killOnce      sync.Once
	logger        *slog.Logger
}

// Done is closed once the process has exited and its Exited event fired.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the process exit error once Done is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

// Terminate sends an interrupt, waits up to the configured grace period, then
// kills the process. It returns once the process has exited or ctx is done.
func (h *Handle) Terminate(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	h.manifestTimer.Stop()
	// Signal errors are expected when the process raced us to exit.
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		h.logger.Debug("interrupt transcoder", "error", err)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.grace):
	}

	h.killOnce.Do(func() {
		h.logger.Warn("transcoder ignored interrupt, killing", "grace", h.grace)
		if err := h.cmd.Process.Kill(); err != nil {
			h.logger.Debug("kill transcoder", "error", err)
		}
	})

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
