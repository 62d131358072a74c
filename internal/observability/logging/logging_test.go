package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf, Format: "json"})

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted at warn level: %s", buf.String())
	}

	logger.Warn("kept", "producer_id", "p1")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["msg"] != "kept" || record["producer_id"] != "p1" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestWithContextAnnotatesIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	ctx := ContextWithProducerID(context.Background(), "prod-7")
	ctx = ContextWithPeerID(ctx, "peer-3")
	WithContext(ctx, logger).Info("bridged")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["producer_id"] != "prod-7" {
		t.Fatalf("missing producer_id: %v", record)
	}
	if record["peer_id"] != "peer-3" {
		t.Fatalf("missing peer_id: %v", record)
	}
}

func TestContextCarriersIgnoreEmptyValues(t *testing.T) {
	ctx := ContextWithProducerID(context.Background(), "   ")
	if _, ok := ProducerIDFromContext(ctx); ok {
		t.Fatal("expected empty producer id to be dropped")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/streams/unknown/status", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["status"] != float64(http.StatusNotFound) {
		t.Fatalf("unexpected status field: %v", record["status"])
	}
	if record["path"] != "/api/streams/unknown/status" {
		t.Fatalf("unexpected path field: %v", record["path"])
	}
}
