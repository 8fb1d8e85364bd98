// Package transport defines the publish/subscribe/presence capability the
// session engine runs on, plus two implementations: an in-memory Hub for
// tests and local play, and a websocket client for the relay server.
//
// Delivery is best effort. A broadcast is never echoed to its sender and
// there are no acknowledgements; handlers may run on any goroutine and
// must not block.
package transport

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"
)

// Kind selects which stream a handler listens to.
type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindPresence  Kind = "presence"
)

// PresenceSync is the event name for presence notifications.
const PresenceSync = "sync"

// Status is a subscription lifecycle notification.
type Status string

const (
	StatusSubscribed Status = "SUBSCRIBED"
	StatusError      Status = "CHANNEL_ERROR"
	StatusClosed     Status = "CLOSED"
)

var (
	// ErrNotSubscribed is returned by Send and Track before Subscribe.
	ErrNotSubscribed = errors.New("transport: channel not subscribed")
	// ErrClosed is returned after Unsubscribe.
	ErrClosed = errors.New("transport: channel closed")
)

// Handler receives a broadcast payload. Presence handlers get a nil payload
// and read PresenceState instead.
type Handler func(payload json.RawMessage)

// StatusFunc observes subscription status changes.
type StatusFunc func(status Status, err error)

// Meta is the presence record a client tracks on a channel.
type Meta struct {
	Role        string    `json:"role"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
	ClientID    string    `json:"clientId"`
}

// PresenceState maps presence key to the records tracked under it.
type PresenceState map[string][]Meta

// Clone deep-copies the state.
func (p PresenceState) Clone() PresenceState {
	out := make(PresenceState, len(p))
	for k, metas := range p {
		out[k] = slices.Clone(metas)
	}
	return out
}

// Keys returns the presence keys in sorted order.
func (p PresenceState) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// PubSub hands out channel handles.
type PubSub interface {
	Channel(name, presenceKey string) Channel
}

// Channel is one client's handle on a named channel.
type Channel interface {
	// On registers a handler. Register before Subscribe.
	On(kind Kind, event string, fn Handler)
	// Subscribe joins the channel. fn observes later status changes;
	// an immediate failure is returned instead.
	Subscribe(fn StatusFunc) error
	// Send broadcasts payload to every other subscriber.
	Send(event string, payload any) error
	// Track publishes this client's presence record, replacing any earlier one.
	Track(meta Meta) error
	// PresenceState returns a snapshot of the channel's presence registry.
	PresenceState() PresenceState
	// Unsubscribe leaves the channel. No handlers run afterwards.
	Unsubscribe() error
}

// Frame is the relay wire format.
type Frame struct {
	Type        string          `json:"type"`
	Channel     string          `json:"channel,omitempty"`
	Event       string          `json:"event,omitempty"`
	PresenceKey string          `json:"presence_key,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Frame types. Clients send subscribe, track, broadcast and unsubscribe;
// the relay sends subscribed, broadcast, presence_state and error.
const (
	FrameSubscribe     = "subscribe"
	FrameSubscribed    = "subscribed"
	FrameTrack         = "track"
	FrameBroadcast     = "broadcast"
	FrameUnsubscribe   = "unsubscribe"
	FramePresenceState = "presence_state"
	FrameError         = "error"
)

// FrameErrorPayload is the payload of an error frame.
type FrameErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handlerSet is the per-channel handler registry shared by implementations.
type handlerSet map[Kind]map[string][]Handler

func (h handlerSet) add(kind Kind, event string, fn Handler) {
	if h[kind] == nil {
		h[kind] = make(map[string][]Handler)
	}
	h[kind][event] = append(h[kind][event], fn)
}

func (h handlerSet) get(kind Kind, event string) []Handler {
	return slices.Clone(h[kind][event])
}
