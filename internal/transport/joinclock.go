package transport

import (
	"sync"
	"time"
)

// JoinClock stamps Meta.JoinedAt on a participant's first track. Presence
// registries use it so join order comes from one clock instead of each
// client's. Stamps strictly increase, so two tracks within one clock tick
// still order by arrival.
type JoinClock struct {
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewJoinClock returns a JoinClock reading now. A nil now uses time.Now.
func NewJoinClock(now func() time.Time) *JoinClock {
	if now == nil {
		now = time.Now
	}
	return &JoinClock{now: now}
}

// Stamp returns the next join time.
func (c *JoinClock) Stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// Retrack returns meta with JoinedAt taken from prev when the participant
// was already tracked, or freshly stamped otherwise.
func (c *JoinClock) Retrack(meta Meta, prev *Meta) Meta {
	if prev != nil {
		meta.JoinedAt = prev.JoinedAt
		return meta
	}
	meta.JoinedAt = c.Stamp()
	return meta
}
