package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Envelope records one broadcast passing through a Hub.
type Envelope struct {
	Channel string          `json:"channel"`
	From    string          `json:"from"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Dropped bool            `json:"dropped,omitempty"`
}

type dropRule struct {
	event     string
	remaining int
}

// Hub is an in-process PubSub. Delivery is synchronous: Send calls the
// receivers' handlers before returning, outside the hub lock. Like the
// relay, the hub stamps JoinedAt itself on first track.
type Hub struct {
	mu            sync.Mutex
	rooms         map[string][]*memChannel
	drops         []*dropRule
	failSubscribe error
	trace         func(Envelope)
	joins         *JoinClock
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubClock sets the clock used to stamp joins. Default: time.Now.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.joins = NewJoinClock(now)
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{rooms: make(map[string][]*memChannel), joins: NewJoinClock(nil)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Channel implements PubSub.
func (h *Hub) Channel(name, presenceKey string) Channel {
	return &memChannel{hub: h, name: name, key: presenceKey, handlers: make(handlerSet)}
}

// DropNext discards the next n broadcasts of event, on any channel.
func (h *Hub) DropNext(event string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drops = append(h.drops, &dropRule{event: event, remaining: n})
}

// FailNextSubscribe makes the next Subscribe call return err.
func (h *Hub) FailNextSubscribe(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failSubscribe = err
}

// SetTrace installs an observer for every broadcast, dropped ones included.
func (h *Hub) SetTrace(fn func(Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = fn
}

// shouldDrop consumes a matching drop rule. Caller holds h.mu.
func (h *Hub) shouldDrop(event string) bool {
	for i, r := range h.drops {
		if r.event != event {
			continue
		}
		r.remaining--
		if r.remaining <= 0 {
			h.drops = append(h.drops[:i], h.drops[i+1:]...)
		}
		return true
	}
	return false
}

func (h *Hub) presence(name string) PresenceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := make(PresenceState)
	for _, m := range h.rooms[name] {
		if m.meta != nil {
			state[m.key] = append(state[m.key], *m.meta)
		}
	}
	return state
}

// notifyPresence runs every subscriber's presence handlers.
func (h *Hub) notifyPresence(name string) {
	h.mu.Lock()
	members := append([]*memChannel(nil), h.rooms[name]...)
	h.mu.Unlock()

	for _, m := range members {
		for _, fn := range m.handlersFor(KindPresence, PresenceSync) {
			fn(nil)
		}
	}
}

type memChannel struct {
	hub  *Hub
	name string
	key  string

	mu         sync.Mutex
	handlers   handlerSet
	subscribed bool
	closed     bool

	// meta is guarded by hub.mu.
	meta *Meta
}

func (c *memChannel) On(kind Kind, event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.add(kind, event, fn)
}

func (c *memChannel) handlersFor(kind Kind, event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.handlers.get(kind, event)
}

func (c *memChannel) Subscribe(fn StatusFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.hub.mu.Lock()
	if err := c.hub.failSubscribe; err != nil {
		c.hub.failSubscribe = nil
		c.hub.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", c.name, err)
	}
	c.hub.rooms[c.name] = append(c.hub.rooms[c.name], c)
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	if fn != nil {
		fn(StatusSubscribed, nil)
	}
	return nil
}

func (c *memChannel) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case !c.subscribed:
		return ErrNotSubscribed
	}
	return nil
}

func (c *memChannel) Send(event string, payload any) error {
	if err := c.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	h := c.hub
	h.mu.Lock()
	dropped := h.shouldDrop(event)
	trace := h.trace
	var receivers []*memChannel
	if !dropped {
		for _, m := range h.rooms[c.name] {
			if m != c {
				receivers = append(receivers, m)
			}
		}
	}
	h.mu.Unlock()

	if trace != nil {
		trace(Envelope{Channel: c.name, From: c.key, Event: event, Payload: data, Dropped: dropped})
	}
	for _, m := range receivers {
		for _, fn := range m.handlersFor(KindBroadcast, event) {
			fn(data)
		}
	}
	return nil
}

func (c *memChannel) Track(meta Meta) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.hub.mu.Lock()
	meta = c.hub.joins.Retrack(meta, c.meta)
	c.meta = &meta
	c.hub.mu.Unlock()

	c.hub.notifyPresence(c.name)
	return nil
}

func (c *memChannel) PresenceState() PresenceState {
	return c.hub.presence(c.name)
}

func (c *memChannel) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	wasSubscribed := c.subscribed
	c.closed = true
	c.mu.Unlock()

	if !wasSubscribed {
		return nil
	}

	h := c.hub
	h.mu.Lock()
	members := h.rooms[c.name]
	for i, m := range members {
		if m == c {
			h.rooms[c.name] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(h.rooms[c.name]) == 0 {
		delete(h.rooms, c.name)
	}
	c.meta = nil
	h.mu.Unlock()

	h.notifyPresence(c.name)
	return nil
}
