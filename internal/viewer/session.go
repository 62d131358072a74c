package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"streambridge/internal/observability/metrics"
	"streambridge/internal/rtc"
	"streambridge/internal/signal"
)

// ErrAttachFailed means consuming a producer kept failing through the whole
// retry budget.
var ErrAttachFailed = errors.New("attach failed")

// Caller performs RPC exchanges and delivers server pushes.
// *signal.Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, in, out any) error
	Events() <-chan signal.Event
}

// Config wires a Session.
type Config struct {
	Caller  Caller
	Device  Device
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	Retry RetryPolicy

	// RediscoverInterval is the producer list polling period; pushes make
	// discovery prompt, polling makes it reliable.
	RediscoverInterval time.Duration

	// OnPlayout is invoked for every newPlayout announcement. Optional.
	OnPlayout func(signal.PlayoutAnnouncement)
}

// Session runs the consumer protocol. All protocol decisions happen on the
// single Run goroutine, so attach dedup needs no locking beyond the snapshot
// guard for readers.
type Session struct {
	cfg    Config
	logger *slog.Logger

	transport Transport
	connected bool
	caps      rtc.RTPCapabilities

	mu        sync.Mutex
	consumers map[string]Consumer // keyed by remote producer id
}

// NewSession validates the configuration.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("caller is required")
	}
	if cfg.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RediscoverInterval <= 0 {
		cfg.RediscoverInterval = 10 * time.Second
	}
	cfg.Retry = cfg.Retry.normalized()
	return &Session{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "viewer"),
		consumers: make(map[string]Consumer),
	}, nil
}

// Run performs the handshake, then consumes discovery triggers until ctx is
// done or the connection drops. Individual attach failures are logged and do
// not abort the session.
func (s *Session) Run(ctx context.Context) error {
	if err := s.negotiate(ctx); err != nil {
		return err
	}

	if err := s.discover(ctx); err != nil {
		s.logger.Warn("initial discovery", "error", err)
	}

	ticker := time.NewTicker(s.cfg.RediscoverInterval)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.discover(ctx); err != nil {
				s.logger.Warn("rediscover", "error", err)
			}
		case event, ok := <-s.cfg.Caller.Events():
			if !ok {
				return fmt.Errorf("signalling connection lost")
			}
			s.handleEvent(ctx, event)
		}
	}
}

// negotiate fetches the router's codec offer, loads it into the device, and
// reports the resolved set back. A refusal at any step means this device
// cannot decode anything the router offers.
func (s *Session) negotiate(ctx context.Context) error {
	var router rtc.RTPCapabilities
	if err := s.cfg.Caller.Call(ctx, signal.MethodRouterCapabilities, nil, &router); err != nil {
		return fmt.Errorf("%w: %v", signal.ErrCapabilityNegotiation, err)
	}
	resolved, err := s.cfg.Device.Load(router)
	if err != nil {
		return fmt.Errorf("%w: %v", signal.ErrCapabilityNegotiation, err)
	}
	report := signal.CapabilityReport{Capabilities: resolved}
	var negotiated rtc.RTPCapabilities
	if err := s.cfg.Caller.Call(ctx, signal.MethodReportCapabilities, report, &negotiated); err != nil {
		return fmt.Errorf("%w: %v", signal.ErrCapabilityNegotiation, err)
	}
	s.caps = negotiated
	s.logger.Info("capabilities negotiated", "offered", len(router.Codecs), "negotiated", len(negotiated.Codecs))
	return nil
}

// ensureTransport lazily creates and connects the receive transport. The
// connect handshake happens once, before the first consumer resumes.
func (s *Session) ensureTransport(ctx context.Context) (Transport, error) {
	if s.transport == nil {
		var opts rtc.TransportOptions
		if err := s.cfg.Caller.Call(ctx, signal.MethodCreateReceiveTransport, nil, &opts); err != nil {
			return nil, fmt.Errorf("create receive transport: %w", err)
		}
		local, err := s.cfg.Device.CreateReceiveTransport(opts)
		if err != nil {
			return nil, fmt.Errorf("materialise receive transport: %w", err)
		}
		s.transport = local
		s.logger.Info("receive transport created", "transport_id", local.ID())
	}
	if !s.connected {
		dtls, err := s.transport.DTLSParameters()
		if err != nil {
			return nil, fmt.Errorf("local dtls parameters: %w", err)
		}
		connect := signal.ConnectTransportRequest{TransportID: s.transport.ID(), DTLS: dtls}
		if err := s.cfg.Caller.Call(ctx, signal.MethodConnectTransport, connect, nil); err != nil {
			return nil, fmt.Errorf("connect receive transport: %w", err)
		}
		s.connected = true
	}
	return s.transport, nil
}

// discover lists producers and attaches any not yet consumed.
func (s *Session) discover(ctx context.Context) error {
	var list signal.ProducerList
	if err := s.cfg.Caller.Call(ctx, signal.MethodListProducers, nil, &list); err != nil {
		return err
	}
	for _, producer := range list.Producers {
		if err := s.attach(ctx, producer); err != nil {
			s.logger.Error("attach producer", "producer_id", producer.ID, "error", err)
		}
	}
	return nil
}

func (s *Session) handleEvent(ctx context.Context, event signal.Event) {
	switch event.Event {
	case signal.EventNewProducer:
		var producer rtc.ProducerInfo
		if err := json.Unmarshal(event.Data, &producer); err != nil {
			s.logger.Warn("decode newProducer event", "error", err)
			return
		}
		if err := s.attach(ctx, producer); err != nil {
			s.logger.Error("attach producer", "producer_id", producer.ID, "error", err)
		}
	case signal.EventPeerClosed:
		var closed signal.ProducerClosed
		if err := json.Unmarshal(event.Data, &closed); err != nil {
			s.logger.Warn("decode peerClosed event", "error", err)
			return
		}
		s.detach(closed.ProducerID)
	case signal.EventNewPlayout:
		var playout signal.PlayoutAnnouncement
		if err := json.Unmarshal(event.Data, &playout); err != nil {
			s.logger.Warn("decode newPlayout event", "error", err)
			return
		}
		s.logger.Info("playout available", "producer_id", playout.ProducerID, "url", playout.PlayoutURL)
		if s.cfg.OnPlayout != nil {
			s.cfg.OnPlayout(playout)
		}
	default:
		s.logger.Debug("unhandled event", "event", event.Event)
	}
}

// attach consumes one producer with bounded retry. A producer already
// consumed is a no-op, so duplicate triggers from discovery and pushes never
// double-attach.
func (s *Session) attach(ctx context.Context, producer rtc.ProducerInfo) error {
	if s.attached(producer.ID) {
		return nil
	}

	transport, err := s.ensureTransport(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retry.MaxAttempts; attempt++ {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AttachAttempt()
		}
		consumer, err := s.attachOnce(ctx, transport, producer.ID)
		if err == nil {
			s.mu.Lock()
			s.consumers[producer.ID] = consumer
			s.mu.Unlock()
			s.logger.Info("producer attached", "producer_id", producer.ID, "consumer_id", consumer.ID(), "attempt", attempt)
			return nil
		}
		lastErr = err
		s.logger.Warn("attach attempt failed", "producer_id", producer.ID, "attempt", attempt, "error", err)
		if attempt == s.cfg.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Retry.Backoff(attempt)):
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AttachFailed()
	}
	return fmt.Errorf("%w: producer %s after %d attempts: %v", ErrAttachFailed, producer.ID, s.cfg.Retry.MaxAttempts, lastErr)
}

func (s *Session) attachOnce(ctx context.Context, transport Transport, producerID string) (Consumer, error) {
	request := rtc.ConsumeRequest{
		TransportID:  transport.ID(),
		ProducerID:   producerID,
		Capabilities: s.caps,
	}
	var descriptor rtc.ConsumerDescriptor
	if err := s.cfg.Caller.Call(ctx, signal.MethodConsume, request, &descriptor); err != nil {
		return nil, err
	}
	consumer, err := transport.AddConsumer(descriptor)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Caller.Call(ctx, signal.MethodResumeConsumer, signal.ResumeConsumerRequest{ConsumerID: descriptor.ID}, nil); err != nil {
		consumer.Close()
		return nil, err
	}
	if descriptor.Paused {
		if err := consumer.Resume(); err != nil {
			consumer.Close()
			return nil, err
		}
	}
	return consumer, nil
}

func (s *Session) attached(producerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.consumers[producerID]
	return ok
}

func (s *Session) detach(producerID string) {
	s.mu.Lock()
	consumer, ok := s.consumers[producerID]
	if ok {
		delete(s.consumers, producerID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := consumer.Close(); err != nil {
		s.logger.Warn("close consumer", "producer_id", producerID, "error", err)
	}
	s.logger.Info("producer detached", "producer_id", producerID)
}

// AttachedProducers snapshots the producer ids currently consumed, sorted.
func (s *Session) AttachedProducers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.consumers))
	for id := range s.consumers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) close() {
	s.mu.Lock()
	consumers := make([]Consumer, 0, len(s.consumers))
	for id, consumer := range s.consumers {
		consumers = append(consumers, consumer)
		delete(s.consumers, id)
	}
	s.mu.Unlock()
	for _, consumer := range consumers {
		consumer.Close()
	}
	if s.transport != nil {
		s.transport.Close()
	}
}
