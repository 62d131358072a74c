package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"streambridge/internal/rtc"
	"streambridge/internal/transcode"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateCreating  State = "creating"
	StateBridged   State = "bridged"
	StateConnected State = "connected"
	StateFailed    State = "failed"
	StateStopping  State = "stopping"
)

// Session is one live producer bridge: the engine-side plain transport and
// consumer feeding a local UDP endpoint, plus the transcoder process reading
// from it.
type Session struct {
	ProducerID string
	PeerID     string
	Kind       string
	Endpoint   rtc.Endpoint
	OutputDir  string
	SDPPath    string

	transport rtc.PlainTransport
	consumer  rtc.Consumer
	handle    *transcode.Handle
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	lastErr error

	closeOnce sync.Once
}

// newBridgeSession provisions the engine-side half of a session: plain
// transport, consumer, resume, then connect to the local endpoint. On any
// failure everything already created is closed and ErrBridgeSetup is
// returned with the cause wrapped.
func newBridgeSession(ctx context.Context, engine rtc.Engine, producer rtc.ProducerInfo, endpoint rtc.Endpoint, logger *slog.Logger) (*Session, error) {
	sess := &Session{
		ProducerID: producer.ID,
		PeerID:     producer.PeerID,
		Kind:       producer.Kind,
		Endpoint:   endpoint,
		logger:     logger,
		state:      StateCreating,
	}

	transport, err := engine.CreatePlainTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create plain transport: %w", ErrBridgeSetup, err)
	}
	sess.transport = transport

	consumer, err := transport.Consume(ctx, producer.ID)
	if err != nil {
		sess.closeBridge(ctx)
		return nil, fmt.Errorf("%w: consume producer %s: %w", ErrBridgeSetup, producer.ID, err)
	}
	sess.consumer = consumer
	sess.setState(StateBridged)

	// Consumers may arrive paused; resuming is harmless otherwise.
	if err := consumer.Resume(ctx); err != nil {
		sess.closeBridge(ctx)
		return nil, fmt.Errorf("%w: resume consumer %s: %w", ErrBridgeSetup, consumer.ID(), err)
	}

	if err := transport.Connect(ctx, endpoint); err != nil {
		sess.closeBridge(ctx)
		return nil, fmt.Errorf("%w: connect transport to %s: %w", ErrBridgeSetup, endpoint, err)
	}
	sess.setState(StateConnected)

	return sess, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// fail records the first error and moves the session to the failed state.
// A session already stopping keeps its state; the error is still recorded.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	if s.state != StateStopping {
		s.state = StateFailed
	}
}

// LastErr returns the first recorded failure, if any.
func (s *Session) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// closeBridge releases the engine-side resources exactly once: consumer
// first, then transport. Failures are logged, not returned; the engine
// reaps orphans when the peer disconnects.
func (s *Session) closeBridge(ctx context.Context) {
	s.closeOnce.Do(func() {
		if s.consumer != nil {
			if err := s.consumer.Close(ctx); err != nil {
				s.logger.Warn("close consumer", "consumer_id", s.consumer.ID(), "error", err)
			}
		}
		if s.transport != nil {
			if err := s.transport.Close(ctx); err != nil {
				s.logger.Warn("close plain transport", "transport_id", s.transport.ID(), "error", err)
			}
		}
	})
}
