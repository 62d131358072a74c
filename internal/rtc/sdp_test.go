package rtc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func opusParams() RTPParameters {
	return RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
			},
			PayloadType: 100,
		}},
		Encodings: []RTPEncoding{{SSRC: 1234}},
	}
}

func TestSessionDescriptionAudio(t *testing.T) {
	endpoint := Endpoint{IP: "127.0.0.1", RTPPort: 20000, RTCPPort: 20001}

	data, err := SessionDescription(endpoint, KindAudio, opusParams())
	if err != nil {
		t.Fatalf("SessionDescription: %v", err)
	}
	text := string(data)

	for _, want := range []string{
		"m=audio 20000 RTP/AVP 100",
		"a=rtpmap:100 opus/48000/2",
		"a=rtcp:20001",
		"c=IN IP4 127.0.0.1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("SDP missing %q:\n%s", want, text)
		}
	}
}

func TestSessionDescriptionVideoFmtp(t *testing.T) {
	endpoint := Endpoint{IP: "127.0.0.1", RTPPort: 20002, RTCPPort: 20003}
	params := RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "packetization-mode=1",
			},
			PayloadType: 101,
		}},
	}

	data, err := SessionDescription(endpoint, KindVideo, params)
	if err != nil {
		t.Fatalf("SessionDescription: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "m=video 20002 RTP/AVP 101") {
		t.Errorf("missing video media line:\n%s", text)
	}
	if !strings.Contains(text, "a=fmtp:101 packetization-mode=1") {
		t.Errorf("missing fmtp line:\n%s", text)
	}
}

func TestSessionDescriptionRequiresCodec(t *testing.T) {
	if _, err := SessionDescription(Endpoint{IP: "127.0.0.1"}, KindAudio, RTPParameters{}); err == nil {
		t.Fatal("expected error for empty codec list")
	}
}

func TestWriteSDPFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.sdp")
	endpoint := Endpoint{IP: "127.0.0.1", RTPPort: 20000, RTCPPort: 20001}

	if err := WriteSDPFile(path, endpoint, KindAudio, opusParams()); err != nil {
		t.Fatalf("WriteSDPFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sdp: %v", err)
	}
	if !strings.Contains(string(data), "v=0") {
		t.Fatalf("unexpected sdp contents: %s", data)
	}
}
