package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"streambridge/internal/rtc"
)

// callLog records the order of engine-side operations across fakes.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *callLog) count(entry string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == entry {
			n++
		}
	}
	return n
}

func (l *callLog) index(entry string) int {
	for i, e := range l.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeEngine struct {
	log *callLog

	mu        sync.Mutex
	producers []rtc.ProducerInfo
	nextID    int

	failCreateTransport error
	failConsume         error
	failConnect         error

	// onConsumerClose runs inside the fake consumer's Close, letting tests
	// observe surrounding state at teardown time.
	onConsumerClose func()
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{log: &callLog{}}
}

func (e *fakeEngine) setProducers(producers ...rtc.ProducerInfo) {
	e.mu.Lock()
	e.producers = producers
	e.mu.Unlock()
}

func (e *fakeEngine) RouterCapabilities(ctx context.Context) (rtc.RTPCapabilities, error) {
	return rtc.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "video/H264", ClockRate: 90000},
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}, nil
}

func (e *fakeEngine) Producers(ctx context.Context) ([]rtc.ProducerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]rtc.ProducerInfo, len(e.producers))
	copy(out, e.producers)
	return out, nil
}

func (e *fakeEngine) CreatePlainTransport(ctx context.Context) (rtc.PlainTransport, error) {
	e.log.add("transport.create")
	if e.failCreateTransport != nil {
		return nil, e.failCreateTransport
	}
	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("pt-%d", e.nextID)
	e.mu.Unlock()
	return &fakeTransport{id: id, engine: e}, nil
}

func (e *fakeEngine) CreateReceiveTransport(ctx context.Context, peerID string) (rtc.TransportOptions, error) {
	return rtc.TransportOptions{}, errors.New("not supported by fake")
}

func (e *fakeEngine) ConnectReceiveTransport(ctx context.Context, transportID string, dtls json.RawMessage) error {
	return errors.New("not supported by fake")
}

func (e *fakeEngine) Consume(ctx context.Context, req rtc.ConsumeRequest) (rtc.ConsumerDescriptor, error) {
	return rtc.ConsumerDescriptor{}, errors.New("not supported by fake")
}

func (e *fakeEngine) ResumeConsumer(ctx context.Context, consumerID string) error {
	return errors.New("not supported by fake")
}

type fakeTransport struct {
	id     string
	engine *fakeEngine
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Consume(ctx context.Context, producerID string) (rtc.Consumer, error) {
	t.engine.log.add("consumer.create")
	if t.engine.failConsume != nil {
		return nil, t.engine.failConsume
	}
	kind := rtc.KindVideo
	t.engine.mu.Lock()
	for _, p := range t.engine.producers {
		if p.ID == producerID {
			kind = p.Kind
		}
	}
	t.engine.mu.Unlock()
	return &fakeConsumer{id: "c-" + producerID, kind: kind, engine: t.engine}, nil
}

func (t *fakeTransport) Connect(ctx context.Context, endpoint rtc.Endpoint) error {
	t.engine.log.add("transport.connect")
	return t.engine.failConnect
}

func (t *fakeTransport) Close(ctx context.Context) error {
	t.engine.log.add("transport.close")
	return nil
}

type fakeConsumer struct {
	id     string
	kind   string
	paused bool
	engine *fakeEngine
}

func (c *fakeConsumer) ID() string   { return c.id }
func (c *fakeConsumer) Kind() string { return c.kind }
func (c *fakeConsumer) Paused() bool { return c.paused }

func (c *fakeConsumer) RTPParameters() rtc.RTPParameters {
	if c.kind == rtc.KindAudio {
		return rtc.RTPParameters{
			Codecs: []webrtc.RTPCodecParameters{{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
				PayloadType:        100,
			}},
			Encodings: []rtc.RTPEncoding{{SSRC: 2222}},
		}
	}
	return rtc.RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/H264", ClockRate: 90000},
			PayloadType:        102,
		}},
		Encodings: []rtc.RTPEncoding{{SSRC: 1111}},
	}
}

func (c *fakeConsumer) Resume(ctx context.Context) error {
	c.engine.log.add("consumer.resume")
	c.paused = false
	return nil
}

func (c *fakeConsumer) Close(ctx context.Context) error {
	if c.engine.onConsumerClose != nil {
		c.engine.onConsumerClose()
	}
	c.engine.log.add("consumer.close")
	return nil
}
