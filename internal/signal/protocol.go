// Package signal implements the RPC channel between a bridge node and its
// viewers: JSON request/response calls plus server-pushed events over a
// websocket. The wire format is a flat envelope; payloads are typed per
// method and opaque to the dispatcher.
package signal

import (
	"encoding/json"
	"errors"

	"streambridge/internal/rtc"
)

// Request/response methods a viewer may call.
const (
	MethodRouterCapabilities     = "getRouterCapabilities"
	MethodReportCapabilities     = "reportCapabilities"
	MethodCreateReceiveTransport = "createReceiveTransport"
	MethodConnectTransport       = "connectTransport"
	MethodListProducers          = "listProducers"
	MethodConsume                = "consume"
	MethodResumeConsumer         = "resumeConsumer"
)

// Events pushed by the server to every connected viewer.
const (
	EventNewProducer = "newProducer"
	EventPeerClosed  = "peerClosed"
	EventNewPlayout  = "newPlayout"
)

// ErrCapabilityNegotiation means the viewer's reported capabilities share no
// codec with the router, or the viewer skipped the handshake entirely.
var ErrCapabilityNegotiation = errors.New("capability negotiation failed")

// Request is a viewer-initiated call. IDs are chosen by the caller and echoed
// back on the matching Response.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ID    uint64          `json:"id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a server push with no request counterpart.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// message is the union the client reads off the wire: a non-empty Event field
// marks a push, anything else is a response.
type message struct {
	ID    uint64          `json:"id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CapabilityReport is the payload of reportCapabilities.
type CapabilityReport struct {
	Capabilities rtc.RTPCapabilities `json:"rtpCapabilities"`
}

// ConnectTransportRequest completes the viewer transport's DTLS handshake.
type ConnectTransportRequest struct {
	TransportID string          `json:"transportId"`
	DTLS        json.RawMessage `json:"dtls"`
}

// ProducerList answers listProducers.
type ProducerList struct {
	Producers []rtc.ProducerInfo `json:"producers"`
}

// ResumeConsumerRequest unpauses a viewer consumer.
type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

// PlayoutAnnouncement is the newPlayout event payload.
type PlayoutAnnouncement struct {
	ProducerID string `json:"producerId"`
	PlayoutURL string `json:"playoutUrl"`
}

// ProducerClosed is the peerClosed event payload: the named producer's media
// has ended and any consumer attached to it is dead.
type ProducerClosed struct {
	ProducerID string `json:"producerId"`
}
