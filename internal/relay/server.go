package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/roach88/duet/internal/store"
	"github.com/roach88/duet/internal/transport"
)

const (
	maxFramePayloadBytes   = 64 * 1024
	maxDecodeErrorsPerConn = 3
)

// Error codes sent in error frames.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
)

// Server routes relay traffic. The zero value is not usable; call New.
type Server struct {
	now    func() time.Time
	hub    *channelHub
	kv     store.KV
	logger *slog.Logger
	mux    *http.ServeMux
	nextID atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// WithStore serves /kv from kv. Without it /kv answers 503.
func WithStore(kv store.KV) Option {
	return func(s *Server) {
		s.kv = kv
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock that stamps presence join times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New builds a relay server.
func New(opts ...Option) *Server {
	s := &Server{
		now:    time.Now,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newChannelHub(s.now)

	s.mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(s.handleConn)
	s.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	s.mux.HandleFunc("GET /kv/{key...}", s.handleKVGet)
	s.mux.HandleFunc("PUT /kv/{key...}", s.handleKVPut)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close drops every open websocket connection.
func (s *Server) Close() error {
	var errs []error
	for _, p := range s.hub.peers() {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channels reports how many channels have subscribers.
func (s *Server) Channels() int {
	return s.hub.count()
}

// connState is the per-connection subscription.
type connState struct {
	peer    *peer
	channel *channel
	logger  *slog.Logger
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	conn.MaxPayloadBytes = maxFramePayloadBytes + 1024

	st := &connState{
		peer:   &peer{id: s.nextID.Add(1), conn: conn},
		logger: s.logger,
	}
	defer s.leave(st)

	decodeErrors := 0
	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				s.writeError(st.peer, CodeInvalidArgument, "frame too large")
				continue
			}
			st.logger.Debug("relay connection read failed", "peer", st.peer.id, "error", err)
			return
		}

		var frame transport.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			decodeErrors++
			s.writeError(st.peer, CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				st.logger.Info("closing relay connection after decode errors", "peer", st.peer.id)
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			s.writeError(st.peer, CodeInvalidArgument, "payload too large")
			continue
		}

		switch frame.Type {
		case transport.FrameSubscribe:
			s.handleSubscribe(st, frame)
		case transport.FrameTrack:
			s.handleTrack(st, frame)
		case transport.FrameBroadcast:
			s.handleBroadcast(st, frame)
		case transport.FrameUnsubscribe:
			s.leave(st)
		default:
			s.writeError(st.peer, CodeInvalidArgument, "unsupported frame type")
		}
	}
}

func (s *Server) handleSubscribe(st *connState, frame transport.Frame) {
	name := strings.TrimSpace(frame.Channel)
	if name == "" {
		s.writeError(st.peer, CodeInvalidArgument, "channel is required")
		return
	}
	if st.channel != nil {
		if st.channel.name == name {
			_ = st.peer.writeFrame(transport.Frame{Type: transport.FrameSubscribed, Channel: name})
			return
		}
		s.leave(st)
	}

	ch := s.hub.join(name, st.peer)
	st.channel = ch
	st.logger = s.logger.With("channel", name, "peer", st.peer.id)
	st.logger.Debug("peer subscribed")

	if err := st.peer.writeFrame(transport.Frame{Type: transport.FrameSubscribed, Channel: name}); err != nil {
		st.logger.Debug("write subscribed failed", "error", err)
		return
	}
	presence, err := ch.presenceFrame()
	if err != nil {
		st.logger.Warn("encode presence failed", "error", err)
		return
	}
	_ = st.peer.writeFrame(presence)
}

func (s *Server) handleTrack(st *connState, frame transport.Frame) {
	if st.channel == nil {
		s.writeError(st.peer, CodeFailedPrecondition, "subscribe before track")
		return
	}
	var meta transport.Meta
	if err := json.Unmarshal(frame.Payload, &meta); err != nil {
		s.writeError(st.peer, CodeInvalidArgument, "invalid presence payload")
		return
	}
	key := strings.TrimSpace(frame.PresenceKey)
	if key == "" {
		key = meta.ClientID
	}
	if key == "" {
		s.writeError(st.peer, CodeInvalidArgument, "presence_key is required")
		return
	}

	meta = st.channel.track(st.peer, key, meta)
	st.logger.Debug("presence tracked", "key", key, "role", meta.Role, "joined_at", meta.JoinedAt)
	s.pushPresence(st.channel)
}

func (s *Server) handleBroadcast(st *connState, frame transport.Frame) {
	if st.channel == nil {
		s.writeError(st.peer, CodeFailedPrecondition, "subscribe before broadcast")
		return
	}
	if strings.TrimSpace(frame.Event) == "" {
		s.writeError(st.peer, CodeInvalidArgument, "event is required")
		return
	}

	out := transport.Frame{
		Type:    transport.FrameBroadcast,
		Channel: st.channel.name,
		Event:   frame.Event,
		Payload: frame.Payload,
	}
	for _, p := range st.channel.members(st.peer) {
		if err := p.writeFrame(out); err != nil {
			st.logger.Debug("fan-out write failed", "to", p.id, "event", frame.Event, "error", err)
		}
	}
}

// leave unsubscribes st from its channel, if any.
func (s *Server) leave(st *connState) {
	ch := st.channel
	if ch == nil {
		return
	}
	st.channel = nil
	tracked := ch.leave(st.peer)
	st.logger.Debug("peer left", "tracked", tracked)
	if tracked {
		s.pushPresence(ch)
	}
	s.hub.release(ch)
}

func (s *Server) pushPresence(ch *channel) {
	frame, err := ch.presenceFrame()
	if err != nil {
		s.logger.Warn("encode presence failed", "channel", ch.name, "error", err)
		return
	}
	for _, p := range ch.members(nil) {
		_ = p.writeFrame(frame)
	}
}

func (s *Server) writeError(p *peer, code, message string) {
	payload, _ := json.Marshal(transport.FrameErrorPayload{Code: code, Message: message})
	_ = p.writeFrame(transport.Frame{Type: transport.FrameError, Payload: payload})
}
