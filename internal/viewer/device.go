package viewer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"streambridge/internal/rtc"
)

// Device is the local media stack the session materialises transports and
// consumers on.
type Device interface {
	// Capabilities reports what the device can decode.
	Capabilities() rtc.RTPCapabilities

	// Load resolves the router's codec offer against what the device can
	// decode, returning the set the session reports back during the
	// handshake. An empty resolution is an error.
	Load(router rtc.RTPCapabilities) (rtc.RTPCapabilities, error)

	// CreateReceiveTransport builds the local half of a receive transport
	// from the engine-issued options.
	CreateReceiveTransport(opts rtc.TransportOptions) (Transport, error)
}

// Transport is the local receive transport.
type Transport interface {
	ID() string

	// DTLSParameters returns the local handshake payload sent to the server
	// via connectTransport.
	DTLSParameters() (json.RawMessage, error)

	// AddConsumer materialises a local consumer from the engine's descriptor.
	AddConsumer(descriptor rtc.ConsumerDescriptor) (Consumer, error)

	Close() error
}

// Consumer is a local consumer bound to one remote producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string

	// Resume unpauses the local media pipeline for a consumer the engine
	// created paused.
	Resume() error

	Close() error
}

// HeadlessDevice is a Device with no real media pipeline: transports and
// consumers are inert records. It drives the full protocol for tooling and
// tests without touching codecs or sockets.
type HeadlessDevice struct{}

func (HeadlessDevice) Capabilities() rtc.RTPCapabilities {
	return rtc.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "video/H264", ClockRate: 90000},
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
}

func (d HeadlessDevice) Load(router rtc.RTPCapabilities) (rtc.RTPCapabilities, error) {
	decodable := make(map[string]struct{})
	for _, codec := range d.Capabilities().Codecs {
		decodable[strings.ToLower(codec.MimeType)] = struct{}{}
	}
	var resolved rtc.RTPCapabilities
	for _, codec := range router.Codecs {
		if _, ok := decodable[strings.ToLower(codec.MimeType)]; ok {
			resolved.Codecs = append(resolved.Codecs, codec)
		}
	}
	if len(resolved.Codecs) == 0 {
		return rtc.RTPCapabilities{}, fmt.Errorf("router offers no decodable codecs")
	}
	return resolved, nil
}

func (HeadlessDevice) CreateReceiveTransport(opts rtc.TransportOptions) (Transport, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("transport options carry no id")
	}
	return &headlessTransport{id: opts.ID}, nil
}

type headlessTransport struct {
	id string

	mu        sync.Mutex
	consumers []*headlessConsumer
}

func (t *headlessTransport) ID() string { return t.id }

func (t *headlessTransport) DTLSParameters() (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"role":"client","fingerprint":%q}`, uuid.NewString())), nil
}

func (t *headlessTransport) AddConsumer(descriptor rtc.ConsumerDescriptor) (Consumer, error) {
	if descriptor.ID == "" || descriptor.ProducerID == "" {
		return nil, fmt.Errorf("incomplete consumer descriptor")
	}
	consumer := &headlessConsumer{descriptor: descriptor, paused: descriptor.Paused}
	t.mu.Lock()
	t.consumers = append(t.consumers, consumer)
	t.mu.Unlock()
	return consumer, nil
}

func (t *headlessTransport) Close() error { return nil }

type headlessConsumer struct {
	descriptor rtc.ConsumerDescriptor
	paused     bool
}

func (c *headlessConsumer) ID() string         { return c.descriptor.ID }
func (c *headlessConsumer) ProducerID() string { return c.descriptor.ProducerID }
func (c *headlessConsumer) Kind() string       { return c.descriptor.Kind }

func (c *headlessConsumer) Resume() error {
	c.paused = false
	return nil
}

func (c *headlessConsumer) Close() error { return nil }
