package rtc

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/sdp/v3"
)

// SessionDescription renders an SDP document describing the RTP stream the
// engine forwards to the given endpoint. The transcoder uses it as its input
// declaration (ffmpeg reads codec, payload type, and ports from it).
func SessionDescription(endpoint Endpoint, kind string, params RTPParameters) ([]byte, error) {
	codec, err := params.PrimaryCodec()
	if err != nil {
		return nil, err
	}
	codecName := codec.MimeType
	if idx := strings.IndexByte(codecName, '/'); idx >= 0 {
		codecName = codecName[idx+1:]
	}

	rtpmap := fmt.Sprintf("%d %s/%d", codec.PayloadType, codecName, codec.ClockRate)
	if kind == KindAudio && codec.Channels > 0 {
		rtpmap = fmt.Sprintf("%s/%d", rtpmap, codec.Channels)
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   kind,
			Port:    sdp.RangedPort{Value: endpoint.RTPPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{fmt.Sprintf("%d", codec.PayloadType)},
		},
		Attributes: []sdp.Attribute{
			{Key: "rtpmap", Value: rtpmap},
			{Key: "rtcp", Value: fmt.Sprintf("%d", endpoint.RTCPPort)},
		},
	}
	if codec.SDPFmtpLine != "" {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key:   "fmtp",
			Value: fmt.Sprintf("%d %s", codec.PayloadType, codec.SDPFmtpLine),
		})
	}

	session := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: endpoint.IP,
		},
		SessionName: "streambridge",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: endpoint.IP},
		},
		TimeDescriptions:  []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}

	return session.Marshal()
}

// WriteSDPFile renders the session description and writes it to path.
func WriteSDPFile(path string, endpoint Endpoint, kind string, params RTPParameters) error {
	data, err := SessionDescription(endpoint, kind, params)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
