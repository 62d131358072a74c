package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPEngineConfig stores connectivity information for the engine control API.
type HTTPEngineConfig struct {
	BaseURL       string
	Token         string
	HTTPClient    *http.Client
	Logger        *slog.Logger
	MaxAttempts   int
	RetryInterval time.Duration
}

// HTTPEngine implements Engine against the media engine's control API.
// Requests are authenticated with a bearer token and retried a bounded number
// of times on transport or server errors.
type HTTPEngine struct {
	baseURL  string
	token    string
	client   *http.Client
	logger   *slog.Logger
	attempts int
	interval time.Duration
}

// NewHTTPEngine validates the configuration and returns a ready adapter.
func NewHTTPEngine(cfg HTTPEngineConfig) (*HTTPEngine, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("engine base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse engine base URL: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &HTTPEngine{
		baseURL:  base,
		token:    strings.TrimSpace(cfg.Token),
		client:   client,
		logger:   logger,
		attempts: attempts,
		interval: interval,
	}, nil
}

func (e *HTTPEngine) RouterCapabilities(ctx context.Context) (RTPCapabilities, error) {
	var caps RTPCapabilities
	if err := e.do(ctx, http.MethodGet, "/v1/router/rtp-capabilities", nil, &caps); err != nil {
		return RTPCapabilities{}, fmt.Errorf("fetch router capabilities: %w", err)
	}
	return caps, nil
}

func (e *HTTPEngine) Producers(ctx context.Context) ([]ProducerInfo, error) {
	var producers []ProducerInfo
	if err := e.do(ctx, http.MethodGet, "/v1/producers", nil, &producers); err != nil {
		return nil, fmt.Errorf("list producers: %w", err)
	}
	return producers, nil
}

func (e *HTTPEngine) CreatePlainTransport(ctx context.Context) (PlainTransport, error) {
	var created struct {
		TransportID string `json:"transportId"`
	}
	if err := e.do(ctx, http.MethodPost, "/v1/plain-transports", struct{}{}, &created); err != nil {
		return nil, fmt.Errorf("create plain transport: %w", err)
	}
	if created.TransportID == "" {
		return nil, fmt.Errorf("create plain transport: engine returned empty id")
	}
	return &plainTransport{engine: e, id: created.TransportID}, nil
}

func (e *HTTPEngine) CreateReceiveTransport(ctx context.Context, peerID string) (TransportOptions, error) {
	payload := struct {
		PeerID string `json:"peerId"`
	}{PeerID: peerID}
	var opts TransportOptions
	if err := e.do(ctx, http.MethodPost, "/v1/recv-transports", payload, &opts); err != nil {
		return TransportOptions{}, fmt.Errorf("create receive transport: %w", err)
	}
	return opts, nil
}

func (e *HTTPEngine) ConnectReceiveTransport(ctx context.Context, transportID string, dtls json.RawMessage) error {
	payload := struct {
		DTLS json.RawMessage `json:"dtls"`
	}{DTLS: dtls}
	path := "/v1/recv-transports/" + url.PathEscape(transportID) + "/connect"
	if err := e.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("connect receive transport %s: %w", transportID, err)
	}
	return nil
}

func (e *HTTPEngine) Consume(ctx context.Context, req ConsumeRequest) (ConsumerDescriptor, error) {
	path := "/v1/recv-transports/" + url.PathEscape(req.TransportID) + "/consume"
	var desc ConsumerDescriptor
	if err := e.do(ctx, http.MethodPost, path, req, &desc); err != nil {
		return ConsumerDescriptor{}, fmt.Errorf("consume producer %s: %w", req.ProducerID, err)
	}
	return desc, nil
}

func (e *HTTPEngine) ResumeConsumer(ctx context.Context, consumerID string) error {
	path := "/v1/consumers/" + url.PathEscape(consumerID) + "/resume"
	if err := e.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("resume consumer %s: %w", consumerID, err)
	}
	return nil
}

type plainTransport struct {
	engine *HTTPEngine
	id     string
}

func (t *plainTransport) ID() string { return t.id }

func (t *plainTransport) Consume(ctx context.Context, producerID string) (Consumer, error) {
	payload := struct {
		ProducerID string `json:"producerId"`
	}{ProducerID: producerID}
	var desc ConsumerDescriptor
	path := "/v1/plain-transports/" + url.PathEscape(t.id) + "/consume"
	if err := t.engine.do(ctx, http.MethodPost, path, payload, &desc); err != nil {
		return nil, fmt.Errorf("consume producer %s on transport %s: %w", producerID, t.id, err)
	}
	return &plainConsumer{engine: t.engine, desc: desc}, nil
}

func (t *plainTransport) Connect(ctx context.Context, endpoint Endpoint) error {
	path := "/v1/plain-transports/" + url.PathEscape(t.id) + "/connect"
	if err := t.engine.do(ctx, http.MethodPost, path, endpoint, nil); err != nil {
		return fmt.Errorf("connect transport %s to %s: %w", t.id, endpoint, err)
	}
	return nil
}

func (t *plainTransport) Close(ctx context.Context) error {
	path := "/v1/plain-transports/" + url.PathEscape(t.id)
	if err := t.engine.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("close transport %s: %w", t.id, err)
	}
	return nil
}

type plainConsumer struct {
	engine *HTTPEngine
	desc   ConsumerDescriptor
	paused bool
	loaded bool
}

func (c *plainConsumer) ID() string   { return c.desc.ID }
func (c *plainConsumer) Kind() string { return c.desc.Kind }

func (c *plainConsumer) Paused() bool {
	if !c.loaded {
		return c.desc.Paused
	}
	return c.paused
}

func (c *plainConsumer) RTPParameters() RTPParameters { return c.desc.RTPParameters }

func (c *plainConsumer) Resume(ctx context.Context) error {
	if err := c.engine.ResumeConsumer(ctx, c.desc.ID); err != nil {
		return err
	}
	c.loaded = true
	c.paused = false
	return nil
}

func (c *plainConsumer) Close(ctx context.Context) error {
	path := "/v1/consumers/" + url.PathEscape(c.desc.ID)
	if err := c.engine.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("close consumer %s: %w", c.desc.ID, err)
	}
	return nil
}

// do performs one control-API request with bounded retries. Server errors and
// transport failures are retried; the last error wins.
func (e *HTTPEngine) do(ctx context.Context, method, path string, payload, dest any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		reqBody := io.Reader(nil)
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if e.token != "" {
			req.Header.Set("Authorization", "Bearer "+e.token)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastErr = decodeResponse(resp, dest)
		}
		if lastErr == nil {
			return nil
		}
		if attempt < e.attempts {
			e.logger.Warn("engine request failed",
				"method", method, "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.interval):
			}
		}
	}
	return lastErr
}

func decodeResponse(resp *http.Response, dest any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	data, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
