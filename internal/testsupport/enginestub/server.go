// Package enginestub hosts a fake media-engine control API for exercising the
// HTTP engine adapter without a running SFU.
package enginestub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"streambridge/internal/rtc"
)

// Options describes how the fake engine should behave.
type Options struct {
	// Capabilities are returned from the router capabilities endpoint.
	Capabilities rtc.RTPCapabilities

	// Producers are returned from the producer list endpoint.
	Producers []rtc.ProducerInfo

	// FailTransportCreates causes the first N plain-transport create requests
	// to return HTTP 503. Subsequent attempts succeed.
	FailTransportCreates int

	// FailConsumes causes the first N consume requests to return HTTP 502.
	// Subsequent attempts succeed.
	FailConsumes int

	// Token, when set, is the bearer token every request must carry.
	Token string
}

// Operation represents one recorded control-API interaction.
type Operation struct {
	Kind        string
	TransportID string
	ProducerID  string
	ConsumerID  string
	Attempt     int
	Status      int
	Timestamp   time.Time
}

// Engine hosts a single httptest.Server that serves all control endpoints.
type Engine struct {
	server *httptest.Server
	opts   Options

	mu           sync.Mutex
	operations   []Operation
	transportErr int
	consumeErr   int
	nextID       int
}

// Start spins up a new engine stub using the provided options.
func Start(opts Options) *Engine {
	e := &Engine{opts: opts}
	e.server = httptest.NewServer(http.HandlerFunc(e.handle))
	return e
}

// Close shuts down the underlying HTTP server.
func (e *Engine) Close() {
	if e.server != nil {
		e.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all control endpoints.
func (e *Engine) BaseURL() string {
	return e.server.URL
}

// Operations returns a copy of all recorded operations in the order they occurred.
func (e *Engine) Operations() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Operation, len(e.operations))
	copy(out, e.operations)
	return out
}

func (e *Engine) handle(w http.ResponseWriter, r *http.Request) {
	if !e.expectBearer(w, r) {
		return
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/v1/router/rtp-capabilities":
		e.record(Operation{Kind: "router-capabilities", Status: http.StatusOK})
		_ = json.NewEncoder(w).Encode(e.opts.Capabilities)
	case r.Method == http.MethodGet && path == "/v1/producers":
		e.record(Operation{Kind: "producer-list", Status: http.StatusOK})
		producers := e.opts.Producers
		if producers == nil {
			producers = []rtc.ProducerInfo{}
		}
		_ = json.NewEncoder(w).Encode(producers)
	case r.Method == http.MethodPost && path == "/v1/plain-transports":
		e.handleCreatePlainTransport(w)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/plain-transports/") && strings.HasSuffix(path, "/consume"):
		e.handleConsume(w, r, trimMiddle(path, "/v1/plain-transports/", "/consume"))
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/plain-transports/") && strings.HasSuffix(path, "/connect"):
		id := trimMiddle(path, "/v1/plain-transports/", "/connect")
		e.record(Operation{Kind: "transport-connect", TransportID: id, Status: http.StatusNoContent})
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/v1/plain-transports/"):
		id := strings.TrimPrefix(path, "/v1/plain-transports/")
		e.record(Operation{Kind: "transport-close", TransportID: id, Status: http.StatusNoContent})
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && path == "/v1/recv-transports":
		e.handleCreateReceiveTransport(w)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/recv-transports/") && strings.HasSuffix(path, "/connect"):
		id := trimMiddle(path, "/v1/recv-transports/", "/connect")
		e.record(Operation{Kind: "recv-transport-connect", TransportID: id, Status: http.StatusNoContent})
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/recv-transports/") && strings.HasSuffix(path, "/consume"):
		e.handleConsume(w, r, trimMiddle(path, "/v1/recv-transports/", "/consume"))
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/consumers/") && strings.HasSuffix(path, "/resume"):
		id := trimMiddle(path, "/v1/consumers/", "/resume")
		e.record(Operation{Kind: "consumer-resume", ConsumerID: id, Status: http.StatusNoContent})
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/v1/consumers/"):
		id := strings.TrimPrefix(path, "/v1/consumers/")
		e.record(Operation{Kind: "consumer-close", ConsumerID: id, Status: http.StatusNoContent})
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (e *Engine) handleCreatePlainTransport(w http.ResponseWriter) {
	e.mu.Lock()
	e.transportErr++
	attempt := e.transportErr
	e.nextID++
	id := fmt.Sprintf("pt-%d", e.nextID)
	e.mu.Unlock()

	op := Operation{Kind: "transport-create", TransportID: id, Attempt: attempt, Status: http.StatusOK}
	if attempt <= e.opts.FailTransportCreates {
		op.Status = http.StatusServiceUnavailable
		e.record(op)
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	e.record(op)

	_ = json.NewEncoder(w).Encode(struct {
		TransportID string `json:"transportId"`
	}{TransportID: id})
}

func (e *Engine) handleCreateReceiveTransport(w http.ResponseWriter) {
	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("rt-%d", e.nextID)
	e.mu.Unlock()

	e.record(Operation{Kind: "recv-transport-create", TransportID: id, Status: http.StatusOK})
	_ = json.NewEncoder(w).Encode(rtc.TransportOptions{
		ID:   id,
		ICE:  json.RawMessage(`{"role":"controlled"}`),
		DTLS: json.RawMessage(`{"role":"server"}`),
	})
}

func (e *Engine) handleConsume(w http.ResponseWriter, r *http.Request, transportID string) {
	var req struct {
		ProducerID string `json:"producerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.consumeErr++
	attempt := e.consumeErr
	e.mu.Unlock()

	op := Operation{
		Kind:        "consume",
		TransportID: transportID,
		ProducerID:  req.ProducerID,
		ConsumerID:  "c-" + req.ProducerID,
		Attempt:     attempt,
		Status:      http.StatusOK,
	}
	if attempt <= e.opts.FailConsumes {
		op.Status = http.StatusBadGateway
		e.record(op)
		http.Error(w, "engine busy", http.StatusBadGateway)
		return
	}
	e.record(op)

	kind := rtc.KindVideo
	for _, p := range e.opts.Producers {
		if p.ID == req.ProducerID {
			kind = p.Kind
		}
	}
	_ = json.NewEncoder(w).Encode(rtc.ConsumerDescriptor{
		ID:            op.ConsumerID,
		ProducerID:    req.ProducerID,
		Kind:          kind,
		RTPParameters: parametersForKind(kind),
		Paused:        true,
	})
}

func (e *Engine) record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operations = append(e.operations, op)
}

func (e *Engine) expectBearer(w http.ResponseWriter, r *http.Request) bool {
	expected := strings.TrimSpace(e.opts.Token)
	if expected == "" {
		return true
	}
	if got := r.Header.Get("Authorization"); got != fmt.Sprintf("Bearer %s", expected) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func trimMiddle(path, prefix, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
}

func parametersForKind(kind string) rtc.RTPParameters {
	if kind == rtc.KindAudio {
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
