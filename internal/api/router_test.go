package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"streambridge/internal/bridge"
	"streambridge/internal/observability/metrics"
	"streambridge/internal/rtc"
)

type stubDirectory struct {
	streams []bridge.StreamStatus
}

func (d *stubDirectory) Streams() []bridge.StreamStatus { return d.streams }

func (d *stubDirectory) Status(producerID string) (bridge.StreamStatus, error) {
	for _, status := range d.streams {
		if status.ProducerID == producerID {
			return status, nil
		}
	}
	return bridge.StreamStatus{}, bridge.ErrNotFound
}

func newTestServer(t *testing.T, directory *stubDirectory, hlsRoot string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(Config{
		Directory: directory,
		Metrics:   metrics.New(),
		HLSRoot:   hlsRoot,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestListStreams(t *testing.T) {
	directory := &stubDirectory{streams: []bridge.StreamStatus{
		{ProducerID: "P1", Kind: rtc.KindVideo, State: bridge.StateConnected, Ready: true, PlayoutURL: "/hls/stream_P1/playlist.m3u8"},
		{ProducerID: "P2", Kind: rtc.KindAudio, State: bridge.StateConnected},
	}}
	srv := newTestServer(t, directory, "")

	var streams []bridge.StreamStatus
	if code := getJSON(t, srv.URL+"/api/streams", &streams); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	if streams[0].PlayoutURL != "/hls/stream_P1/playlist.m3u8" {
		t.Errorf("playout url = %q", streams[0].PlayoutURL)
	}
}

func TestListStreamsEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &stubDirectory{}, "")

	resp, err := http.Get(srv.URL + "/api/streams")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw[:1]) != "[" {
		t.Errorf("empty list serialised as %s, want JSON array", raw)
	}
}

func TestStreamStatus(t *testing.T) {
	directory := &stubDirectory{streams: []bridge.StreamStatus{
		{ProducerID: "P1", Kind: rtc.KindVideo, State: bridge.StateConnected, Ready: true, PlayoutURL: "/hls/stream_P1/playlist.m3u8"},
	}}
	srv := newTestServer(t, directory, "")

	var status bridge.StreamStatus
	if code := getJSON(t, srv.URL+"/api/streams/P1/status", &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !status.Ready || status.PlayoutURL != "/hls/stream_P1/playlist.m3u8" {
		t.Errorf("unexpected status payload: %+v", status)
	}
}

func TestStreamStatusNotFound(t *testing.T) {
	srv := newTestServer(t, &stubDirectory{}, "")

	var body map[string]string
	if code := getJSON(t, srv.URL+"/api/streams/ghost/status", &body); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if body["error"] == "" {
		t.Error("404 body carries no error message")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &stubDirectory{}, "")

	if code := getJSON(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("healthz status = %d", code)
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestHLSFileServing(t *testing.T) {
	root := t.TempDir()
	streamDir := filepath.Join(root, "stream_P1")
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "#EXTM3U\n#EXT-X-VERSION:3\n"
	if err := os.WriteFile(filepath.Join(streamDir, "playlist.m3u8"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	srv := newTestServer(t, &stubDirectory{}, root)

	resp, err := http.Get(srv.URL + "/hls/stream_P1/playlist.m3u8")
	if err != nil {
		t.Fatalf("GET manifest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manifest status = %d", resp.StatusCode)
	}
}
