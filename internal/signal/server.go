package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streambridge/internal/bridge"
	"streambridge/internal/rtc"
)

// Server is the bridge-side dispatcher of the RPC channel. Each websocket
// connection is one viewer peer; calls are dispatched to the media engine and
// events are broadcast to every connected peer.
//
// Server implements bridge.Notifier so stream lifecycle changes reach viewers
// as pushes.
type Server struct {
	engine   rtc.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

type peer struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	caps *rtc.RTPCapabilities
}

func NewServer(engine rtc.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: engine,
		logger: logger.With("component", "signal"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	p := &peer{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("peer connected", "peer_id", p.id, "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("peer disconnected", "peer_id", p.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("peer read", "peer_id", p.id, "error", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("malformed request", "peer_id", p.id, "error", err)
			continue
		}
		resp := s.handle(r.Context(), p, req)
		if err := p.write(resp); err != nil {
			return
		}
	}
}

func (p *peer) write(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(v)
}

func (p *peer) capabilities() (rtc.RTPCapabilities, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.caps == nil {
		return rtc.RTPCapabilities{}, false
	}
	return *p.caps, true
}

func (s *Server) handle(ctx context.Context, p *peer, req Request) Response {
	data, err := s.dispatch(ctx, p, req)
	if err != nil {
		s.logger.Warn("call failed", "peer_id", p.id, "method", req.Method, "error", err)
		return Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	return Response{ID: req.ID, OK: true, Data: data}
}

func (s *Server) dispatch(ctx context.Context, p *peer, req Request) (json.RawMessage, error) {
	switch req.Method {
	case MethodRouterCapabilities:
		caps, err := s.engine.RouterCapabilities(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(caps)

	case MethodReportCapabilities:
		var report CapabilityReport
		if err := json.Unmarshal(req.Data, &report); err != nil {
			return nil, fmt.Errorf("decode capability report: %w", err)
		}
		router, err := s.engine.RouterCapabilities(ctx)
		if err != nil {
			return nil, err
		}
		negotiated := intersectCapabilities(router, report.Capabilities)
		if len(negotiated.Codecs) == 0 {
			return nil, fmt.Errorf("%w: no shared codecs", ErrCapabilityNegotiation)
		}
		p.mu.Lock()
		p.caps = &negotiated
		p.mu.Unlock()
		return marshal(negotiated)

	case MethodCreateReceiveTransport:
		opts, err := s.engine.CreateReceiveTransport(ctx, p.id)
		if err != nil {
			return nil, err
		}
		return marshal(opts)

	case MethodConnectTransport:
		var connect ConnectTransportRequest
		if err := json.Unmarshal(req.Data, &connect); err != nil {
			return nil, fmt.Errorf("decode connect request: %w", err)
		}
		if err := s.engine.ConnectReceiveTransport(ctx, connect.TransportID, connect.DTLS); err != nil {
			return nil, err
		}
		return nil, nil

	case MethodListProducers:
		producers, err := s.engine.Producers(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(ProducerList{Producers: producers})

	case MethodConsume:
		var consume rtc.ConsumeRequest
		if err := json.Unmarshal(req.Data, &consume); err != nil {
			return nil, fmt.Errorf("decode consume request: %w", err)
		}
		// The handshake gates consuming: peers that never negotiated get
		// refused, and peers that omit capabilities fall back to the
		// negotiated set.
		caps, negotiated := p.capabilities()
		if !negotiated {
			return nil, fmt.Errorf("%w: capabilities not reported", ErrCapabilityNegotiation)
		}
		if len(consume.Capabilities.Codecs) == 0 {
			consume.Capabilities = caps
		}
		descriptor, err := s.engine.Consume(ctx, consume)
		if err != nil {
			return nil, err
		}
		return marshal(descriptor)

	case MethodResumeConsumer:
		var resume ResumeConsumerRequest
		if err := json.Unmarshal(req.Data, &resume); err != nil {
			return nil, fmt.Errorf("decode resume request: %w", err)
		}
		if err := s.engine.ResumeConsumer(ctx, resume.ConsumerID); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func marshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// intersectCapabilities keeps router codecs the viewer also supports,
// matched case-insensitively on mime type.
func intersectCapabilities(router, viewer rtc.RTPCapabilities) rtc.RTPCapabilities {
	supported := make(map[string]struct{}, len(viewer.Codecs))
	for _, codec := range viewer.Codecs {
		supported[strings.ToLower(codec.MimeType)] = struct{}{}
	}
	var out rtc.RTPCapabilities
	for _, codec := range router.Codecs {
		if _, ok := supported[strings.ToLower(codec.MimeType)]; ok {
			out.Codecs = append(out.Codecs, codec)
		}
	}
	return out
}

// Broadcast pushes an event to every connected peer. Write failures drop the
// event for that peer; its read loop notices the dead connection.
func (s *Server) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", "event", event, "error", err)
		return
	}
	msg := Event{Event: event, Data: data}

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.write(msg); err != nil {
			s.logger.Debug("broadcast write", "peer_id", p.id, "event", event, "error", err)
		}
	}
}

// StreamStarted announces a freshly bridged producer to viewers.
func (s *Server) StreamStarted(status bridge.StreamStatus) {
	s.Broadcast(EventNewProducer, rtc.ProducerInfo{
		ID:     status.ProducerID,
		PeerID: status.PeerID,
		Kind:   status.Kind,
	})
}

// PlayoutReady announces that a stream's playlist is now fetchable.
func (s *Server) PlayoutReady(status bridge.StreamStatus) {
	s.Broadcast(EventNewPlayout, PlayoutAnnouncement{
		ProducerID: status.ProducerID,
		PlayoutURL: status.PlayoutURL,
	})
}

// StreamStopped announces the end of a producer's media.
func (s *Server) StreamStopped(producerID string) {
	s.Broadcast(EventPeerClosed, ProducerClosed{ProducerID: producerID})
}
