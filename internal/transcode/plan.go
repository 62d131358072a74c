package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"streambridge/internal/rtc"
)

// PlanRequest describes one transcode invocation to build.
type PlanRequest struct {
	// SDPPath declares the RTP input (codec, payload type, ports).
	SDPPath string
	// Kind is the media kind carried by the input, rtc.KindAudio or
	// rtc.KindVideo. The missing kind is synthesized so the output is always
	// a valid audio+video playout.
	Kind string
	// OutputDir receives the playlist manifest and segment files.
	OutputDir string

	SegmentSeconds int
	PlaylistLength int
}

// Plan is a fully resolved ffmpeg invocation.
type Plan struct {
	Args     []string
	Playlist string
}

// Filler inputs for the media kind the producer does not carry. The encoder
// requires both tracks to emit a playable audio+video stream.
const (
	fillerVideo = "color=c=black:s=640x360:r=30"
	fillerAudio = "anullsrc=channel_layout=stereo:sample_rate=48000"
)

// BuildPlan assembles the transcoder argument list: RTP in, constrained
// baseline H.264 + AAC out, segmented into a bounded rolling HLS playlist
// that deletes old segments as new ones append.
func BuildPlan(req PlanRequest) (*Plan, error) {
	if strings.TrimSpace(req.SDPPath) == "" {
		return nil, fmt.Errorf("sdp path is required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if req.Kind != rtc.KindAudio && req.Kind != rtc.KindVideo {
		return nil, fmt.Errorf("unsupported media kind %q", req.Kind)
	}
	segment := req.SegmentSeconds
	if segment <= 0 {
		segment = 2
	}
	window := req.PlaylistLength
	if window <= 0 {
		window = 6
	}

	absDir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return nil, err
	}
	playlist := filepath.Join(absDir, "playlist.m3u8")

	args := []string{
		"-y",
		"-loglevel", "level+info",
		"-protocol_whitelist", "file,udp,rtp",
		"-i", req.SDPPath,
	}
	switch req.Kind {
	case rtc.KindAudio:
		args = append(args,
			"-f", "lavfi", "-i", fillerVideo,
			"-map", "1:v:0", "-map", "0:a:0",
		)
	case rtc.KindVideo:
		args = append(args,
			"-f", "lavfi", "-i", fillerAudio,
			"-map", "0:v:0", "-map", "1:a:0",
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.1",
		"-pix_fmt", "yuv420p",
		"-r", "30",
		"-g", strconv.Itoa(30*segment),
		"-keyint_min", strconv.Itoa(30*segment),
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", "128k",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segment),
		"-hls_list_size", strconv.Itoa(window),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", filepath.Join(absDir, "segment_%05d.ts"),
		playlist,
	)

	return &Plan{Args: args, Playlist: playlist}, nil
}

// WriteEmptyManifest writes a minimal valid playlist so readiness probes can
// distinguish "transcoder never produced output" from "file server racing a
// fresh stream". Existing manifests are left untouched.
func WriteEmptyManifest(path string, targetDuration int) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if targetDuration <= 0 {
		targetDuration = 2
	}
	content := fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", targetDuration)
	return os.WriteFile(path, []byte(content), 0o644)
}
