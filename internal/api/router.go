// Package api exposes the bridge node's HTTP surface: stream discovery and
// status queries, the playout file tree, the signalling websocket, health,
// and metrics.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"streambridge/internal/bridge"
	"streambridge/internal/observability/logging"
	"streambridge/internal/observability/metrics"
)

// StreamDirectory answers discovery and status queries.
// *bridge.Orchestrator implements it.
type StreamDirectory interface {
	Streams() []bridge.StreamStatus
	Status(producerID string) (bridge.StreamStatus, error)
}

// Config wires the router.
type Config struct {
	Directory StreamDirectory
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	// Signal, when set, is mounted at /ws.
	Signal http.Handler

	// HLSRoot, when set, is served under /hls/.
	HLSRoot string
}

// NewRouter assembles the chi router.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{directory: cfg.Directory, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(logger))

	r.Get("/healthz", h.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/streams", h.listStreams)
		r.Get("/streams/{producerID}/status", h.streamStatus)
	})

	if cfg.Signal != nil {
		r.Handle("/ws", cfg.Signal)
	}
	if cfg.HLSRoot != "" {
		fileServer := http.StripPrefix("/hls/", http.FileServer(http.Dir(cfg.HLSRoot)))
		r.Handle("/hls/*", fileServer)
	}
	return r
}

type handler struct {
	directory StreamDirectory
	logger    *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.directory.Streams()
	if streams == nil {
		streams = []bridge.StreamStatus{}
	}
	writeJSON(w, http.StatusOK, streams)
}

func (h *handler) streamStatus(w http.ResponseWriter, r *http.Request) {
	producerID := chi.URLParam(r, "producerID")
	status, err := h.directory.Status(producerID)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("stream status", "producer_id", producerID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
