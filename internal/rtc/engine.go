package rtc

import (
	"context"
	"encoding/json"
)

// Engine is the control surface of the media engine.
//
// Implementations should be safe for concurrent use.
type Engine interface {
	// RouterCapabilities returns the codec set the engine's router supports.
	RouterCapabilities(ctx context.Context) (RTPCapabilities, error)

	// Producers lists the currently registered media producers.
	Producers(ctx context.Context) ([]ProducerInfo, error)

	// CreatePlainTransport provisions a plain RTP transport used to bridge
	// one producer's media out of the engine onto a local UDP endpoint.
	CreatePlainTransport(ctx context.Context) (PlainTransport, error)

	// CreateReceiveTransport provisions a receive-side WebRTC transport for a
	// remote viewer identified by peerID.
	CreateReceiveTransport(ctx context.Context, peerID string) (TransportOptions, error)

	// ConnectReceiveTransport completes the viewer transport's connect
	// handshake with the opaque DTLS payload supplied by the viewer.
	ConnectReceiveTransport(ctx context.Context, transportID string, dtls json.RawMessage) error

	// Consume attaches a consumer for the requested producer onto a viewer's
	// receive transport.
	Consume(ctx context.Context, req ConsumeRequest) (ConsumerDescriptor, error)

	// ResumeConsumer unpauses the engine-side half of a viewer consumer.
	ResumeConsumer(ctx context.Context, consumerID string) error
}

// PlainTransport forwards RTP for consumers created on it to the endpoint it
// is connected to. The owning bridge session closes it exactly once.
type PlainTransport interface {
	ID() string

	// Consume attaches a consumer for the given producer to this transport.
	Consume(ctx context.Context, producerID string) (Consumer, error)

	// Connect instructs the engine to send this transport's RTP and RTCP to
	// the given local endpoint.
	Connect(ctx context.Context, endpoint Endpoint) error

	Close(ctx context.Context) error
}

// Consumer is the engine-side handle for one producer's media on a plain
// transport. The owning bridge session closes it exactly once.
type Consumer interface {
	ID() string
	Kind() string
	Paused() bool
	RTPParameters() RTPParameters

	// Resume unpauses the consumer. Consumers may be created paused; the
	// bridge always resumes before connecting the transport.
	Resume(ctx context.Context) error

	Close(ctx context.Context) error
}
