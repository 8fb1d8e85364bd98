package relay

import (
	"cmp"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/roach88/duet/internal/transport"
)

// peer is one websocket connection.
type peer struct {
	id   uint64
	conn *websocket.Conn

	mu sync.Mutex
}

func (p *peer) writeFrame(frame transport.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, frame)
}

type presenceRecord struct {
	key  string
	meta transport.Meta
}

type channelHub struct {
	mu       sync.Mutex
	channels map[string]*channel
	joins    *transport.JoinClock
}

func newChannelHub(now func() time.Time) *channelHub {
	return &channelHub{channels: make(map[string]*channel), joins: transport.NewJoinClock(now)}
}

// join adds p to the named channel, creating it on first use.
func (h *channelHub) join(name string, p *peer) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[name]
	if !ok {
		ch = &channel{
			name:     name,
			joins:    h.joins,
			peers:    make(map[*peer]struct{}),
			presence: make(map[*peer]presenceRecord),
		}
		h.channels[name] = ch
	}
	ch.add(p)
	return ch
}

// release drops the channel once nobody is subscribed.
func (h *channelHub) release(ch *channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch.empty() && h.channels[ch.name] == ch {
		delete(h.channels, ch.name)
	}
}

func (h *channelHub) peers() []*peer {
	h.mu.Lock()
	channels := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	var out []*peer
	for _, ch := range channels {
		out = append(out, ch.members(nil)...)
	}
	return out
}

func (h *channelHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

type channel struct {
	name  string
	joins *transport.JoinClock

	mu       sync.Mutex
	peers    map[*peer]struct{}
	presence map[*peer]presenceRecord
}

func (c *channel) add(p *peer) {
	c.mu.Lock()
	c.peers[p] = struct{}{}
	c.mu.Unlock()
}

// leave removes p and reports whether it had tracked presence.
func (c *channel) leave(p *peer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, p)
	_, tracked := c.presence[p]
	delete(c.presence, p)
	return tracked
}

// track records p's presence. JoinedAt is stamped by the relay on the
// connection's first track and kept on later ones.
func (c *channel) track(p *peer, key string, meta transport.Meta) transport.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	var prev *transport.Meta
	if rec, ok := c.presence[p]; ok {
		prev = &rec.meta
	}
	meta = c.joins.Retrack(meta, prev)
	c.presence[p] = presenceRecord{key: key, meta: meta}
	return meta
}

func (c *channel) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers) == 0
}

// members returns every subscriber except skip.
func (c *channel) members(skip *peer) []*peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*peer, 0, len(c.peers))
	for p := range c.peers {
		if p != skip {
			out = append(out, p)
		}
	}
	return out
}

// presenceFrame snapshots the registry as a presence_state frame.
// Records under one key are ordered by connection.
func (c *channel) presenceFrame() (transport.Frame, error) {
	c.mu.Lock()
	type keyed struct {
		id  uint64
		rec presenceRecord
	}
	records := make([]keyed, 0, len(c.presence))
	for p, rec := range c.presence {
		records = append(records, keyed{id: p.id, rec: rec})
	}
	c.mu.Unlock()

	slices.SortFunc(records, func(a, b keyed) int { return cmp.Compare(a.id, b.id) })

	state := make(transport.PresenceState)
	for _, r := range records {
		state[r.rec.key] = append(state[r.rec.key], r.rec.meta)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return transport.Frame{}, err
	}
	return transport.Frame{Type: transport.FramePresenceState, Channel: c.name, Payload: payload}, nil
}
