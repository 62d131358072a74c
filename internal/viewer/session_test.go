package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"streambridge/internal/rtc"
	"streambridge/internal/signal"
)

type fakeCaller struct {
	mu              sync.Mutex
	routerCaps      rtc.RTPCapabilities
	reported        rtc.RTPCapabilities
	producers       []rtc.ProducerInfo
	consumeCalls    int
	consumeFailures int
	resumed         []string
	connects        int
	negotiateErr    error

	events chan signal.Event
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		routerCaps: HeadlessDevice{}.Capabilities(),
		events:     make(chan signal.Event, 16),
	}
}

func (f *fakeCaller) Events() <-chan signal.Event { return f.events }

func (f *fakeCaller) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	f.events <- signal.Event{Event: event, Data: data}
}

func (f *fakeCaller) Call(ctx context.Context, method string, in, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case signal.MethodRouterCapabilities:
		*(out.(*rtc.RTPCapabilities)) = f.routerCaps
	case signal.MethodReportCapabilities:
		if f.negotiateErr != nil {
			return f.negotiateErr
		}
		f.reported = in.(signal.CapabilityReport).Capabilities
		if out != nil {
			*(out.(*rtc.RTPCapabilities)) = f.reported
		}
	case signal.MethodCreateReceiveTransport:
		*(out.(*rtc.TransportOptions)) = rtc.TransportOptions{ID: "rt-1"}
	case signal.MethodConnectTransport:
		f.connects++
	case signal.MethodListProducers:
		list := out.(*signal.ProducerList)
		list.Producers = append([]rtc.ProducerInfo(nil), f.producers...)
	case signal.MethodConsume:
		f.consumeCalls++
		if f.consumeCalls <= f.consumeFailures {
			return errors.New("engine busy")
		}
		req := in.(rtc.ConsumeRequest)
		*(out.(*rtc.ConsumerDescriptor)) = rtc.ConsumerDescriptor{
			ID:         "c-" + req.ProducerID,
			ProducerID: req.ProducerID,
			Kind:       rtc.KindVideo,
			Paused:     true,
		}
	case signal.MethodResumeConsumer:
		f.resumed = append(f.resumed, in.(signal.ResumeConsumerRequest).ConsumerID)
	default:
		return fmt.Errorf("unexpected method %q", method)
	}
	return nil
}

func (f *fakeCaller) stats() (consumeCalls, connects int, resumed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumeCalls, f.connects, append([]string(nil), f.resumed...)
}

func newTestSession(t *testing.T, caller *fakeCaller) *Session {
	t.Helper()
	session, err := NewSession(Config{
		Caller:             caller,
		Device:             HeadlessDevice{},
		Retry:              RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Millisecond)},
		RediscoverInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func producer(id string) rtc.ProducerInfo {
	return rtc.ProducerInfo{ID: id, PeerID: "peer-" + id, Kind: rtc.KindVideo}
}

func TestRunAttachesDiscoveredProducers(t *testing.T) {
	caller := newFakeCaller()
	caller.producers = []rtc.ProducerInfo{producer("P1"), producer("P2")}
	session := newTestSession(t, caller)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		return len(session.AttachedProducers()) == 2
	})
	if got := session.AttachedProducers(); got[0] != "P1" || got[1] != "P2" {
		t.Errorf("attached = %v", got)
	}

	consumeCalls, connects, resumed := caller.stats()
	if consumeCalls != 2 {
		t.Errorf("consume calls = %d, want 2", consumeCalls)
	}
	if connects != 1 {
		t.Errorf("transport connected %d times, want 1", connects)
	}
	if len(resumed) != 2 {
		t.Errorf("resumed consumers = %v", resumed)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAttachIsExactlyOnceUnderDuplicateTriggers(t *testing.T) {
	caller := newFakeCaller()
	caller.producers = []rtc.ProducerInfo{producer("P1")}
	session := newTestSession(t, caller)

	// The same producer arrives via pushes and via every rediscovery pass.
	for i := 0; i < 3; i++ {
		caller.push(t, signal.EventNewProducer, producer("P1"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return len(session.AttachedProducers()) == 1
	})
	// Let a few rediscovery ticks pass.
	time.Sleep(100 * time.Millisecond)

	consumeCalls, _, _ := caller.stats()
	if consumeCalls != 1 {
		t.Errorf("consume calls = %d, want exactly 1", consumeCalls)
	}
}

func TestAttachRetriesThenSucceeds(t *testing.T) {
	caller := newFakeCaller()
	caller.consumeFailures = 2
	session := newTestSession(t, caller)
	session.negotiate(context.Background())

	if err := session.attach(context.Background(), producer("P1")); err != nil {
		t.Fatalf("attach: %v", err)
	}
	consumeCalls, _, _ := caller.stats()
	if consumeCalls != 3 {
		t.Errorf("consume calls = %d, want 3 (two failures then success)", consumeCalls)
	}
	if got := session.AttachedProducers(); len(got) != 1 || got[0] != "P1" {
		t.Errorf("attached = %v", got)
	}
}

func TestAttachRetryExhaustion(t *testing.T) {
	caller := newFakeCaller()
	caller.consumeFailures = 100
	session := newTestSession(t, caller)
	session.negotiate(context.Background())

	err := session.attach(context.Background(), producer("P1"))
	if !errors.Is(err, ErrAttachFailed) {
		t.Fatalf("attach err = %v, want ErrAttachFailed", err)
	}
	consumeCalls, _, _ := caller.stats()
	if consumeCalls != 3 {
		t.Errorf("consume calls = %d, want exactly the retry budget of 3", consumeCalls)
	}
	if len(session.AttachedProducers()) != 0 {
		t.Error("failed attach left a consumer registered")
	}
}

func TestPeerClosedDetaches(t *testing.T) {
	caller := newFakeCaller()
	caller.producers = []rtc.ProducerInfo{producer("P1")}
	session := newTestSession(t, caller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return len(session.AttachedProducers()) == 1
	})

	// The producer's media ended; drop it from the discovery list too so the
	// next rediscovery pass does not re-attach.
	caller.mu.Lock()
	caller.producers = nil
	caller.mu.Unlock()
	caller.push(t, signal.EventPeerClosed, signal.ProducerClosed{ProducerID: "P1"})

	waitFor(t, 2*time.Second, func() bool {
		return len(session.AttachedProducers()) == 0
	})
}

func TestNegotiateReportsResolvedRouterSubset(t *testing.T) {
	caller := newFakeCaller()
	caller.routerCaps = rtc.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "video/H264", ClockRate: 90000},
		{MimeType: "video/VP9", ClockRate: 90000},
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
	session := newTestSession(t, caller)

	if err := session.negotiate(context.Background()); err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	caller.mu.Lock()
	reported := caller.reported
	caller.mu.Unlock()
	if len(reported.Codecs) != 2 {
		t.Fatalf("reported %d codecs, want the 2 the device can decode", len(reported.Codecs))
	}
	for _, codec := range reported.Codecs {
		if codec.MimeType == "video/VP9" {
			t.Error("reported a codec the device cannot decode")
		}
	}
	if len(session.caps.Codecs) != 2 {
		t.Errorf("session kept %d negotiated codecs, want 2", len(session.caps.Codecs))
	}
}

func TestNegotiateFailsWhenNothingDecodable(t *testing.T) {
	caller := newFakeCaller()
	caller.routerCaps = rtc.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "video/VP9", ClockRate: 90000},
	}}
	session := newTestSession(t, caller)

	err := session.Run(context.Background())
	if !errors.Is(err, signal.ErrCapabilityNegotiation) {
		t.Fatalf("Run err = %v, want capability negotiation failure", err)
	}
	caller.mu.Lock()
	reported := caller.reported
	caller.mu.Unlock()
	if len(reported.Codecs) != 0 {
		t.Error("capabilities were reported despite an empty resolution")
	}
}

func TestAttachResumesPausedLocalConsumer(t *testing.T) {
	caller := newFakeCaller()
	session := newTestSession(t, caller)
	if err := session.negotiate(context.Background()); err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	if err := session.attach(context.Background(), producer("P1")); err != nil {
		t.Fatalf("attach: %v", err)
	}

	session.mu.Lock()
	consumer := session.consumers["P1"]
	session.mu.Unlock()
	local, ok := consumer.(*headlessConsumer)
	if !ok {
		t.Fatalf("consumer is %T, want *headlessConsumer", consumer)
	}
	if local.paused {
		t.Error("consumer created paused was never resumed locally")
	}
}

func TestNegotiationFailureAbortsRun(t *testing.T) {
	caller := newFakeCaller()
	caller.negotiateErr = errors.New("no shared codecs")
	session := newTestSession(t, caller)

	err := session.Run(context.Background())
	if !errors.Is(err, signal.ErrCapabilityNegotiation) {
		t.Fatalf("Run err = %v, want capability negotiation failure", err)
	}
}

func TestOnPlayoutCallback(t *testing.T) {
	caller := newFakeCaller()
	var mu sync.Mutex
	var urls []string
	session, err := NewSession(Config{
		Caller:             caller,
		Device:             HeadlessDevice{},
		RediscoverInterval: time.Minute,
		OnPlayout: func(playout signal.PlayoutAnnouncement) {
			mu.Lock()
			urls = append(urls, playout.PlayoutURL)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	caller.push(t, signal.EventNewPlayout, signal.PlayoutAnnouncement{
		ProducerID: "P1",
		PlayoutURL: "/hls/stream_P1/playlist.m3u8",
	})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(urls) == 1 && urls[0] == "/hls/stream_P1/playlist.m3u8"
	})
}

func TestLinearBackoff(t *testing.T) {
	backoff := LinearBackoff(10 * time.Millisecond)
	for attempt, want := range map[int]time.Duration{
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		5: 50 * time.Millisecond,
	} {
		if got := backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}
