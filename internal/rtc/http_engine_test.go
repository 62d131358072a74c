package rtc_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"streambridge/internal/rtc"
	"streambridge/internal/testsupport/enginestub"
)

func newEngine(t *testing.T, stub *enginestub.Engine, token string) *rtc.HTTPEngine {
	t.Helper()
	engine, err := rtc.NewHTTPEngine(rtc.HTTPEngineConfig{
		BaseURL:       stub.BaseURL(),
		Token:         token,
		MaxAttempts:   3,
		RetryInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	return engine
}

func TestRouterCapabilitiesAndProducers(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{
		Capabilities: rtc.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
			{MimeType: "video/H264", ClockRate: 90000},
			{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		}},
		Producers: []rtc.ProducerInfo{
			{ID: "P1", PeerID: "peer-1", Kind: rtc.KindVideo},
		},
	})
	t.Cleanup(stub.Close)
	engine := newEngine(t, stub, "")

	caps, err := engine.RouterCapabilities(context.Background())
	if err != nil {
		t.Fatalf("RouterCapabilities: %v", err)
	}
	if len(caps.Codecs) != 2 {
		t.Fatalf("codecs = %d, want 2", len(caps.Codecs))
	}

	producers, err := engine.Producers(context.Background())
	if err != nil {
		t.Fatalf("Producers: %v", err)
	}
	if len(producers) != 1 || producers[0].ID != "P1" {
		t.Fatalf("unexpected producer list: %+v", producers)
	}
}

func TestPlainTransportLifecycle(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{
		Producers: []rtc.ProducerInfo{{ID: "P1", PeerID: "peer-1", Kind: rtc.KindAudio}},
	})
	t.Cleanup(stub.Close)
	engine := newEngine(t, stub, "")
	ctx := context.Background()

	transport, err := engine.CreatePlainTransport(ctx)
	if err != nil {
		t.Fatalf("CreatePlainTransport: %v", err)
	}
	if transport.ID() == "" {
		t.Fatal("transport has no id")
	}

	consumer, err := transport.Consume(ctx, "P1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if consumer.Kind() != rtc.KindAudio {
		t.Errorf("consumer kind = %q, want audio", consumer.Kind())
	}
	if !consumer.Paused() {
		t.Error("fresh consumer should be paused")
	}
	if err := consumer.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if consumer.Paused() {
		t.Error("consumer still paused after resume")
	}

	endpoint := rtc.Endpoint{IP: "127.0.0.1", RTPPort: 20000, RTCPPort: 20001}
	if err := transport.Connect(ctx, endpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := consumer.Close(ctx); err != nil {
		t.Fatalf("close consumer: %v", err)
	}
	if err := transport.Close(ctx); err != nil {
		t.Fatalf("close transport: %v", err)
	}

	var kinds []string
	for _, op := range stub.Operations() {
		kinds = append(kinds, op.Kind)
	}
	want := []string{"transport-create", "consume", "consumer-resume", "transport-connect", "consumer-close", "transport-close"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("operations = %v, want %v", kinds, want)
	}
}

func TestRequestsRetryServerErrors(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{FailTransportCreates: 2})
	t.Cleanup(stub.Close)
	engine := newEngine(t, stub, "")

	transport, err := engine.CreatePlainTransport(context.Background())
	if err != nil {
		t.Fatalf("CreatePlainTransport after retries: %v", err)
	}
	if transport.ID() == "" {
		t.Fatal("transport has no id")
	}

	creates := 0
	for _, op := range stub.Operations() {
		if op.Kind == "transport-create" {
			creates++
		}
	}
	if creates != 3 {
		t.Fatalf("create attempts = %d, want 3", creates)
	}
}

func TestRetriesExhaust(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{FailConsumes: 10})
	t.Cleanup(stub.Close)
	engine := newEngine(t, stub, "")
	ctx := context.Background()

	transport, err := engine.CreatePlainTransport(ctx)
	if err != nil {
		t.Fatalf("CreatePlainTransport: %v", err)
	}
	if _, err := transport.Consume(ctx, "P1"); err == nil {
		t.Fatal("expected consume to fail after retries")
	}
}

func TestBearerTokenSent(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{Token: "secret"})
	t.Cleanup(stub.Close)

	authorized := newEngine(t, stub, "secret")
	if _, err := authorized.Producers(context.Background()); err != nil {
		t.Fatalf("authorized request failed: %v", err)
	}

	anonymous := newEngine(t, stub, "")
	if _, err := anonymous.Producers(context.Background()); err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestReceiveTransportFlow(t *testing.T) {
	stub := enginestub.Start(enginestub.Options{
		Producers: []rtc.ProducerInfo{{ID: "P1", PeerID: "peer-1", Kind: rtc.KindVideo}},
	})
	t.Cleanup(stub.Close)
	engine := newEngine(t, stub, "")
	ctx := context.Background()

	opts, err := engine.CreateReceiveTransport(ctx, "viewer-1")
	if err != nil {
		t.Fatalf("CreateReceiveTransport: %v", err)
	}
	if opts.ID == "" || len(opts.DTLS) == 0 {
		t.Fatalf("incomplete transport options: %+v", opts)
	}

	if err := engine.ConnectReceiveTransport(ctx, opts.ID, json.RawMessage(`{"fingerprint":"aa"}`)); err != nil {
		t.Fatalf("ConnectReceiveTransport: %v", err)
	}

	desc, err := engine.Consume(ctx, rtc.ConsumeRequest{TransportID: opts.ID, ProducerID: "P1"})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if desc.ProducerID != "P1" || desc.Kind != rtc.KindVideo {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if err := engine.ResumeConsumer(ctx, desc.ID); err != nil {
		t.Fatalf("ResumeConsumer: %v", err)
	}
}

func TestNewHTTPEngineRequiresBaseURL(t *testing.T) {
	if _, err := rtc.NewHTTPEngine(rtc.HTTPEngineConfig{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}
