package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/net/websocket"
)

// WS is a PubSub backed by a relay server. Each channel handle owns its
// own websocket connection.
type WS struct {
	url    string
	origin string
	logger *slog.Logger
}

// NewWS returns a client for the relay websocket endpoint at url
// (for example "ws://localhost:8787/ws"). origin is sent in the handshake.
func NewWS(url, origin string, logger *slog.Logger) *WS {
	if logger == nil {
		logger = slog.Default()
	}
	return &WS{url: url, origin: origin, logger: logger}
}

// Channel implements PubSub.
func (w *WS) Channel(name, presenceKey string) Channel {
	return &wsChannel{
		ws:       w,
		name:     name,
		key:      presenceKey,
		handlers: make(handlerSet),
		presence: make(PresenceState),
	}
}

type wsChannel struct {
	ws   *WS
	name string
	key  string

	mu       sync.Mutex
	handlers handlerSet
	presence PresenceState
	status   StatusFunc
	conn     *websocket.Conn
	closed   bool

	writeMu sync.Mutex
	encoder *json.Encoder
}

func (c *wsChannel) On(kind Kind, event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.add(kind, event, fn)
}

func (c *wsChannel) Subscribe(fn StatusFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cfg, err := websocket.NewConfig(c.ws.url, c.ws.origin)
	if err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	conn, err := cfg.DialContext(context.Background())
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", c.ws.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.status = fn
	c.encoder = json.NewEncoder(conn)
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.writeFrame(Frame{Type: FrameSubscribe, Channel: c.name, PresenceKey: c.key}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscribe %s: %w", c.name, err)
	}
	return nil
}

func (c *wsChannel) writeFrame(f Frame) error {
	c.mu.Lock()
	enc := c.encoder
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if enc == nil {
		return ErrNotSubscribed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return enc.Encode(f)
}

func (c *wsChannel) readLoop(conn *websocket.Conn) {
	decoder := json.NewDecoder(conn)
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			c.finish(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *wsChannel) dispatch(frame Frame) {
	switch frame.Type {
	case FrameSubscribed:
		c.notify(StatusSubscribed, nil)
	case FrameBroadcast:
		for _, fn := range c.handlersFor(KindBroadcast, frame.Event) {
			fn(frame.Payload)
		}
	case FramePresenceState:
		var state PresenceState
		if err := json.Unmarshal(frame.Payload, &state); err != nil {
			c.ws.logger.Warn("invalid presence frame", "channel", c.name, "error", err)
			return
		}
		c.mu.Lock()
		c.presence = state
		c.mu.Unlock()
		for _, fn := range c.handlersFor(KindPresence, PresenceSync) {
			fn(nil)
		}
	case FrameError:
		var payload FrameErrorPayload
		_ = json.Unmarshal(frame.Payload, &payload)
		c.ws.logger.Warn("relay error", "channel", c.name, "code", payload.Code, "message", payload.Message)
	default:
		c.ws.logger.Debug("ignoring relay frame", "channel", c.name, "type", frame.Type)
	}
}

// finish reports the end of the read loop. A loop ended by Unsubscribe
// reports Closed; anything else is a channel error.
func (c *wsChannel) finish(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed || errors.Is(err, io.EOF) {
		c.notify(StatusClosed, nil)
		return
	}
	c.notify(StatusError, err)
}

func (c *wsChannel) notify(status Status, err error) {
	c.mu.Lock()
	fn := c.status
	c.mu.Unlock()
	if fn != nil {
		fn(status, err)
	}
}

func (c *wsChannel) handlersFor(kind Kind, event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.handlers.get(kind, event)
}

func (c *wsChannel) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return c.writeFrame(Frame{Type: FrameBroadcast, Channel: c.name, Event: event, Payload: data})
}

func (c *wsChannel) Track(meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	return c.writeFrame(Frame{Type: FrameTrack, Channel: c.name, PresenceKey: c.key, Payload: data})
}

func (c *wsChannel) PresenceState() PresenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.Clone()
}

func (c *wsChannel) Unsubscribe() error {
	_ = c.writeFrame(Frame{Type: FrameUnsubscribe, Channel: c.name})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close relay connection: %w", err)
	}
	return nil
}
