package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events   []string
	payloads []string
	syncs    int
	statuses []Status
}

func (r *recorder) on(ch Channel, events ...string) {
	for _, ev := range events {
		ev := ev
		ch.On(KindBroadcast, ev, func(p json.RawMessage) {
			r.events = append(r.events, ev)
			r.payloads = append(r.payloads, string(p))
		})
	}
	ch.On(KindPresence, PresenceSync, func(json.RawMessage) { r.syncs++ })
}

func (r *recorder) status(s Status, _ error) {
	r.statuses = append(r.statuses, s)
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	a, b := hub.Channel("room:AB", "primary"), hub.Channel("room:AB", "secondary")
	var ra, rb recorder
	ra.on(a, "ping")
	rb.on(b, "ping")

	require.NoError(t, a.Subscribe(ra.status))
	require.NoError(t, b.Subscribe(rb.status))
	assert.Equal(t, []Status{StatusSubscribed}, ra.statuses)

	require.NoError(t, a.Send("ping", map[string]int{"n": 1}))

	assert.Empty(t, ra.events)
	assert.Equal(t, []string{"ping"}, rb.events)
	assert.JSONEq(t, `{"n":1}`, rb.payloads[0])
}

func TestHubChannelsAreIsolated(t *testing.T) {
	hub := NewHub()
	a, other := hub.Channel("room:AA", "primary"), hub.Channel("room:BB", "secondary")
	var r recorder
	r.on(other, "ping")
	require.NoError(t, a.Subscribe(nil))
	require.NoError(t, other.Subscribe(nil))

	require.NoError(t, a.Send("ping", nil))
	assert.Empty(t, r.events)
}

func TestHubSendBeforeSubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Channel("room:AB", "primary")
	assert.ErrorIs(t, ch.Send("ping", nil), ErrNotSubscribed)
	assert.ErrorIs(t, ch.Track(Meta{}), ErrNotSubscribed)
}

func TestHubPresence(t *testing.T) {
	hubNow := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	hub := NewHub(WithHubClock(func() time.Time { return hubNow }))
	a, b := hub.Channel("room:AB", "primary"), hub.Channel("room:AB", "secondary")
	var ra, rb recorder
	ra.on(a)
	rb.on(b)
	require.NoError(t, a.Subscribe(nil))
	require.NoError(t, b.Subscribe(nil))

	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.Track(Meta{Role: "primary", DisplayName: "Ann", JoinedAt: joined, ClientID: "c1"}))
	require.NoError(t, b.Track(Meta{Role: "secondary", DisplayName: "Ben", JoinedAt: joined, ClientID: "c2"}))

	assert.Equal(t, 2, ra.syncs)
	assert.Equal(t, 2, rb.syncs)

	state := a.PresenceState()
	assert.Equal(t, []string{"primary", "secondary"}, state.Keys())
	assert.Equal(t, "Ben", state["secondary"][0].DisplayName)
	assert.True(t, state["primary"][0].JoinedAt.Equal(hubNow), "hub stamps joins from its own clock")
	benJoined := state["secondary"][0].JoinedAt
	assert.True(t, benJoined.After(hubNow))

	// Re-tracking replaces the record and keeps the join time.
	require.NoError(t, b.Track(Meta{Role: "secondary", DisplayName: "Benny", JoinedAt: joined, ClientID: "c2"}))
	require.Len(t, a.PresenceState()["secondary"], 1)
	assert.Equal(t, "Benny", a.PresenceState()["secondary"][0].DisplayName)
	assert.True(t, a.PresenceState()["secondary"][0].JoinedAt.Equal(benJoined))

	require.NoError(t, b.Unsubscribe())
	assert.Equal(t, 4, ra.syncs)
	assert.Equal(t, 3, rb.syncs, "no notifications after unsubscribe")
	assert.Equal(t, []string{"primary"}, a.PresenceState().Keys())
}

func TestHubDuplicatePresenceKeys(t *testing.T) {
	hub := NewHub()
	first, second := hub.Channel("room:AB", "primary"), hub.Channel("room:AB", "primary")
	require.NoError(t, first.Subscribe(nil))
	require.NoError(t, second.Subscribe(nil))
	require.NoError(t, first.Track(Meta{Role: "primary", ClientID: "c1"}))
	require.NoError(t, second.Track(Meta{Role: "primary", ClientID: "c2"}))

	metas := first.PresenceState()["primary"]
	require.Len(t, metas, 2)
	assert.Equal(t, "c1", metas[0].ClientID)
	assert.Equal(t, "c2", metas[1].ClientID)
}

func TestHubDropNext(t *testing.T) {
	hub := NewHub()
	a, b := hub.Channel("room:AB", "primary"), hub.Channel("room:AB", "secondary")
	var rb recorder
	rb.on(b, "ping", "pong")
	require.NoError(t, a.Subscribe(nil))
	require.NoError(t, b.Subscribe(nil))

	var trace []Envelope
	hub.SetTrace(func(e Envelope) { trace = append(trace, e) })
	hub.DropNext("ping", 2)

	require.NoError(t, a.Send("ping", 1))
	require.NoError(t, a.Send("pong", 2))
	require.NoError(t, a.Send("ping", 3))
	require.NoError(t, a.Send("ping", 4))

	assert.Equal(t, []string{"pong", "ping"}, rb.events)
	assert.Equal(t, []string{"2", "4"}, rb.payloads)

	require.Len(t, trace, 4)
	assert.True(t, trace[0].Dropped)
	assert.False(t, trace[1].Dropped)
	assert.True(t, trace[2].Dropped)
	assert.False(t, trace[3].Dropped)
	assert.Equal(t, "primary", trace[0].From)
}

func TestHubFailNextSubscribe(t *testing.T) {
	hub := NewHub()
	boom := errors.New("boom")
	hub.FailNextSubscribe(boom)

	var r recorder
	ch := hub.Channel("room:AB", "primary")
	err := ch.Subscribe(r.status)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.statuses)

	require.NoError(t, ch.Subscribe(r.status), "failure is one-shot")
	assert.Equal(t, []Status{StatusSubscribed}, r.statuses)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	a, b := hub.Channel("room:AB", "primary"), hub.Channel("room:AB", "secondary")
	var rb recorder
	rb.on(b, "ping")
	require.NoError(t, a.Subscribe(nil))
	require.NoError(t, b.Subscribe(nil))
	require.NoError(t, b.Unsubscribe())

	require.NoError(t, a.Send("ping", 1))
	assert.Empty(t, rb.events)
	assert.ErrorIs(t, b.Send("ping", 1), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(nil), ErrClosed)
	assert.NoError(t, b.Unsubscribe(), "unsubscribe is idempotent")
}

func TestPresenceStateClone(t *testing.T) {
	orig := PresenceState{"primary": {{ClientID: "c1"}}}
	c := orig.Clone()
	c["primary"][0].ClientID = "changed"
	assert.Equal(t, "c1", orig["primary"][0].ClientID)
}
