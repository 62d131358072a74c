package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Media kinds understood by the engine and the transcoder.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// RTPCapabilities lists the codecs a router or a viewer device supports.
type RTPCapabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// RTPEncoding describes one RTP stream within a consumer.
type RTPEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

// RTPParameters describes the RTP session the engine sends for one consumer.
type RTPParameters struct {
	Codecs    []webrtc.RTPCodecParameters `json:"codecs"`
	Encodings []RTPEncoding               `json:"encodings"`
}

// PrimaryCodec returns the first negotiated codec.
func (p RTPParameters) PrimaryCodec() (webrtc.RTPCodecParameters, error) {
	if len(p.Codecs) == 0 {
		return webrtc.RTPCodecParameters{}, fmt.Errorf("rtp parameters carry no codecs")
	}
	return p.Codecs[0], nil
}

// ProducerInfo identifies one live media producer registered with the engine.
type ProducerInfo struct {
	ID     string `json:"id"`
	PeerID string `json:"peerId"`
	Kind   string `json:"kind"`
}

// Endpoint is a local UDP port pair the engine forwards RTP and RTCP to.
type Endpoint struct {
	IP       string `json:"ip"`
	RTPPort  int    `json:"rtpPort"`
	RTCPPort int    `json:"rtcpPort"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d/%d", e.IP, e.RTPPort, e.RTCPPort)
}

// TransportOptions carries what a viewer needs to construct its receive-side
// transport. ICE and DTLS payloads are opaque to the bridge.
type TransportOptions struct {
	ID   string          `json:"id"`
	ICE  json.RawMessage `json:"ice,omitempty"`
	DTLS json.RawMessage `json:"dtls,omitempty"`
}

// ConsumeRequest asks the engine to attach a consumer for a producer onto a
// viewer's receive transport, filtered by the viewer's capabilities.
type ConsumeRequest struct {
	TransportID  string          `json:"transportId"`
	ProducerID   string          `json:"producerId"`
	Capabilities RTPCapabilities `json:"rtpCapabilities"`
}

// ConsumerDescriptor is the engine's answer to a ConsumeRequest; the viewer
// materialises a local consumer from it.
type ConsumerDescriptor struct {
	ID            string        `json:"id"`
	ProducerID    string        `json:"producerId"`
	Kind          string        `json:"kind"`
	RTPParameters RTPParameters `json:"rtpParameters"`
	Paused        bool          `json:"paused"`
}
