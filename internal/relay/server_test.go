package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/roach88/duet/internal/store"
	"github.com/roach88/duet/internal/transport"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(append([]Option{WithLogger(quietLogger())}, opts...)...)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// inbox collects broadcast payloads for one event.
type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (b *inbox) handler(payload json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, string(payload))
}

func (b *inbox) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.msgs...)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []transport.Status
}

func (s *statusLog) record(status transport.Status, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *statusLog) has(want transport.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st == want {
			return true
		}
	}
	return false
}

func subscribe(t *testing.T, ws *transport.WS, channel, key string, box *inbox) (transport.Channel, *statusLog) {
	t.Helper()
	ch := ws.Channel(channel, key)
	if box != nil {
		ch.On(transport.KindBroadcast, "ping", box.handler)
	}
	log := &statusLog{}
	require.NoError(t, ch.Subscribe(log.record))
	require.Eventually(t, func() bool { return log.has(transport.StatusSubscribed) }, waitFor, tick)
	t.Cleanup(func() { _ = ch.Unsubscribe() })
	return ch, log
}

func TestUp(t *testing.T) {
	_, ts := startRelay(t)

	resp, err := http.Get(ts.URL + "/up")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestWS_RejectsNonGet(t *testing.T) {
	_, ts := startRelay(t)

	resp, err := http.Post(ts.URL+"/ws", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBroadcast_FansOutToOthersOnly(t *testing.T) {
	_, ts := startRelay(t)
	ws := transport.NewWS(wsURL(ts), ts.URL, quietLogger())

	var a, b, c inbox
	chA, _ := subscribe(t, ws, "room:ABCD", "a", &a)
	subscribe(t, ws, "room:ABCD", "b", &b)
	subscribe(t, ws, "room:WXYZ", "c", &c)

	require.NoError(t, chA.Send("ping", map[string]int{"n": 1}))

	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{`{"n":1}`}, b.snapshot())

	// Give a misrouted frame time to arrive before asserting absence.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.snapshot(), "sender must not receive its own broadcast")
	assert.Empty(t, c.snapshot(), "other channels must be isolated")
}

func TestBroadcast_PreservesSenderOrder(t *testing.T) {
	_, ts := startRelay(t)
	ws := transport.NewWS(wsURL(ts), ts.URL, quietLogger())

	var b inbox
	chA, _ := subscribe(t, ws, "room:ABCD", "a", nil)
	subscribe(t, ws, "room:ABCD", "b", &b)

	for i := 0; i < 20; i++ {
		require.NoError(t, chA.Send("ping", i))
	}

	require.Eventually(t, func() bool { return len(b.snapshot()) == 20 }, waitFor, tick)
	for i, got := range b.snapshot() {
		assert.Equal(t, strings.TrimSpace(string(mustJSON(t, i))), got)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestPresence_TrackAndLeave(t *testing.T) {
	relayNow := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	srv, ts := startRelay(t, WithClock(func() time.Time { return relayNow }))
	ws := transport.NewWS(wsURL(ts), ts.URL, quietLogger())

	chA, _ := subscribe(t, ws, "room:ABCD", "a", nil)
	chB, _ := subscribe(t, ws, "room:ABCD", "b", nil)

	// Client-supplied join times are ignored; the relay stamps its own.
	skewed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, chA.Track(transport.Meta{Role: "primary", DisplayName: "Ann", JoinedAt: skewed.Add(time.Hour), ClientID: "a-1"}))
	require.Eventually(t, func() bool {
		return len(chA.PresenceState()) == 1
	}, waitFor, tick)
	require.NoError(t, chB.Track(transport.Meta{Role: "secondary", DisplayName: "Ben", JoinedAt: skewed, ClientID: "b-1"}))

	require.Eventually(t, func() bool {
		return len(chA.PresenceState()) == 2 && len(chB.PresenceState()) == 2
	}, waitFor, tick)

	state := chA.PresenceState()
	assert.Equal(t, []string{"a", "b"}, state.Keys())
	require.Len(t, state["b"], 1)
	assert.Equal(t, "Ben", state["b"][0].DisplayName)
	annJoined := state["a"][0].JoinedAt
	assert.True(t, annJoined.Equal(relayNow), "got %v", annJoined)
	assert.True(t, state["b"][0].JoinedAt.After(annJoined), "later track orders after earlier one on a frozen clock")

	// Re-tracking replaces rather than appends, and keeps the join time.
	require.NoError(t, chA.Track(transport.Meta{Role: "primary", DisplayName: "Annie", JoinedAt: skewed, ClientID: "a-1"}))
	require.Eventually(t, func() bool {
		metas := chB.PresenceState()["a"]
		return len(metas) == 1 && metas[0].DisplayName == "Annie"
	}, waitFor, tick)
	assert.True(t, chB.PresenceState()["a"][0].JoinedAt.Equal(annJoined))

	require.NoError(t, chB.Unsubscribe())
	require.Eventually(t, func() bool {
		_, ok := chA.PresenceState()["b"]
		return !ok
	}, waitFor, tick)
	assert.Equal(t, 1, srv.Channels())
}

func TestPresence_DuplicateKeysListed(t *testing.T) {
	_, ts := startRelay(t)
	ws := transport.NewWS(wsURL(ts), ts.URL, quietLogger())

	ch1, _ := subscribe(t, ws, "room:ABCD", "primary", nil)
	ch2, _ := subscribe(t, ws, "room:ABCD", "primary", nil)

	require.NoError(t, ch1.Track(transport.Meta{Role: "primary", DisplayName: "Ann", ClientID: "1"}))
	require.NoError(t, ch2.Track(transport.Meta{Role: "primary", DisplayName: "Amy", ClientID: "2"}))

	require.Eventually(t, func() bool { return len(ch1.PresenceState()["primary"]) == 2 }, waitFor, tick)
	metas := ch1.PresenceState()["primary"]
	assert.Equal(t, "Ann", metas[0].DisplayName)
	assert.Equal(t, "Amy", metas[1].DisplayName)
}

func TestChannel_ReleasedWhenEmpty(t *testing.T) {
	srv, ts := startRelay(t)
	ws := transport.NewWS(wsURL(ts), ts.URL, quietLogger())

	ch, _ := subscribe(t, ws, "room:ABCD", "a", nil)
	assert.Equal(t, 1, srv.Channels())

	require.NoError(t, ch.Unsubscribe())
	require.Eventually(t, func() bool { return srv.Channels() == 0 }, waitFor, tick)
}

// rawConn speaks frames directly, for protocol error paths.
func rawConn(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, err := websocket.Dial(wsURL(ts), "", ts.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(waitFor)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) transport.Frame {
	t.Helper()
	var f transport.Frame
	require.NoError(t, websocket.JSON.Receive(conn, &f))
	return f
}

func errorCode(t *testing.T, f transport.Frame) string {
	t.Helper()
	require.Equal(t, transport.FrameError, f.Type)
	var p transport.FrameErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p.Code
}

func TestProtocol_BroadcastBeforeSubscribe(t *testing.T) {
	_, ts := startRelay(t)
	conn := rawConn(t, ts)

	require.NoError(t, websocket.JSON.Send(conn, transport.Frame{Type: transport.FrameBroadcast, Event: "x"}))
	assert.Equal(t, CodeFailedPrecondition, errorCode(t, readFrame(t, conn)))
}

func TestProtocol_SubscribeAcksWithPresence(t *testing.T) {
	_, ts := startRelay(t)
	conn := rawConn(t, ts)

	require.NoError(t, websocket.JSON.Send(conn, transport.Frame{Type: transport.FrameSubscribe, Channel: "room:ABCD"}))
	assert.Equal(t, transport.FrameSubscribed, readFrame(t, conn).Type)

	presence := readFrame(t, conn)
	assert.Equal(t, transport.FramePresenceState, presence.Type)
	assert.JSONEq(t, `{}`, string(presence.Payload))
}

func TestProtocol_UnknownFrameType(t *testing.T) {
	_, ts := startRelay(t)
	conn := rawConn(t, ts)

	require.NoError(t, websocket.JSON.Send(conn, transport.Frame{Type: "hello"}))
	assert.Equal(t, CodeInvalidArgument, errorCode(t, readFrame(t, conn)))
}

func TestProtocol_DecodeErrorBudget(t *testing.T) {
	_, ts := startRelay(t)
	conn := rawConn(t, ts)

	for i := 0; i < maxDecodeErrorsPerConn; i++ {
		require.NoError(t, websocket.Message.Send(conn, "{not json"))
		assert.Equal(t, CodeInvalidArgument, errorCode(t, readFrame(t, conn)))
	}

	var f transport.Frame
	err := websocket.JSON.Receive(conn, &f)
	assert.Error(t, err, "connection should be closed after repeated decode errors")
}

func TestProtocol_OversizedPayload(t *testing.T) {
	_, ts := startRelay(t)
	conn := rawConn(t, ts)

	require.NoError(t, websocket.JSON.Send(conn, transport.Frame{Type: transport.FrameSubscribe, Channel: "room:ABCD"}))
	readFrame(t, conn)
	readFrame(t, conn)

	big := `"` + strings.Repeat("x", maxFramePayloadBytes) + `"`
	require.NoError(t, websocket.JSON.Send(conn, transport.Frame{Type: transport.FrameBroadcast, Event: "x", Payload: json.RawMessage(big)}))
	assert.Equal(t, CodeInvalidArgument, errorCode(t, readFrame(t, conn)))
}

func TestKV_RoundTrip(t *testing.T) {
	_, ts := startRelay(t, WithStore(store.NewMemory()))

	remote, err := store.NewRemote(ts.URL, ts.Client())
	require.NoError(t, err)

	ctx := t.Context()
	_, err = remote.Get(ctx, store.ScenarioKey("abcd"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, remote.Set(ctx, store.ScenarioKey("abcd"), []byte(`{"title":"T"}`)))
	got, err := remote.Get(ctx, store.ScenarioKey("abcd"))
	require.NoError(t, err)
	assert.Equal(t, `{"title":"T"}`, string(got))
}

func TestKV_Unconfigured(t *testing.T) {
	_, ts := startRelay(t)

	resp, err := http.Get(ts.URL + "/kv/duet/scenario/ABCD")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestKV_ValueTooLarge(t *testing.T) {
	_, ts := startRelay(t, WithStore(store.NewMemory()))

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/kv/big", bytes.NewReader(make([]byte, store.MaxValueBytes+1)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
