package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/duet/internal/presence"
	"github.com/roach88/duet/internal/scenario"
	"github.com/roach88/duet/internal/session"
	"github.com/roach88/duet/internal/transport"
)

// DefaultDebounce is the default delay for coalescing roster updates.
const DefaultDebounce = 200 * time.Millisecond

// ChannelName returns the transport channel for a room code.
func ChannelName(room string) string {
	return "room:" + room
}

// Client is one participant's replica of a room.
//
// All session state is owned by a single consumer: either the Run loop or
// explicit Drain calls, never both. Load, Join, Choose, Edit, Leave and
// transport callbacks only enqueue. Readers use View.
type Client struct {
	room        string
	role        session.Role
	displayName string
	clientID    string

	pubsub   transport.PubSub
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger
	debounce time.Duration

	queue     *eventQueue
	view      atomic.Pointer[View]
	changed   chan struct{}
	debouncer *presence.Debouncer

	// Loop-owned.
	phase      Phase
	doc        *scenario.Document
	state      *session.State
	log        *session.Log
	channel    transport.Channel
	arbiter    *presence.Arbiter
	roster     presence.Roster
	ready      bool
	notice     string
	lastErr    *ActionError
	duplicate  *presence.Duplicate
	collisions int
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(cl *Client) {
		cl.clock = c
	}
}

// WithIDGenerator sets the id source. The first id becomes the client id.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(cl *Client) {
		cl.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithDebounce sets the roster debounce delay. Zero flushes on the next
// processed event.
func WithDebounce(d time.Duration) Option {
	return func(cl *Client) {
		cl.debounce = d
	}
}

// New creates a client for role in room. The room code should already be
// normalized (see lobby.NormalizeRoom).
func New(room string, role session.Role, displayName string, ps transport.PubSub, opts ...Option) *Client {
	c := &Client{
		room:        room,
		role:        role,
		displayName: displayName,
		pubsub:      ps,
		clock:       SystemClock{},
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
		debounce:    DefaultDebounce,
		queue:       newEventQueue(),
		changed:     make(chan struct{}, 1),
		phase:       PhaseAwaitingScenario,
		log:         session.NewLog(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.clientID = c.ids.Generate()
	c.logger = c.logger.With("room", room, "role", string(role), "client", c.clientID)
	c.arbiter = presence.NewArbiter(room, role, c.clientID)
	c.debouncer = presence.NewDebouncer(c.debounce)
	c.publish()
	return c
}

// ClientID returns the id this client tracks in presence.
func (c *Client) ClientID() string {
	return c.clientID
}

// View returns the latest snapshot. Safe from any goroutine.
func (c *Client) View() View {
	return *c.view.Load()
}

// Changed signals after a new View is published. Signals coalesce.
func (c *Client) Changed() <-chan struct{} {
	return c.changed
}

// Load supplies the scenario.
func (c *Client) Load(doc *scenario.Document) error {
	return c.enqueue(event{kind: eventLoad, doc: doc})
}

// Join subscribes to the room channel.
func (c *Client) Join() error {
	return c.enqueue(event{kind: eventJoin})
}

// Choose resolves the current turn with the choice at index. text is the
// optional narrative entry written with it. Refusals appear on the View.
func (c *Client) Choose(index int, text string) error {
	return c.enqueue(event{kind: eventChoose, index: index, text: text})
}

// Edit replaces the body of a message this client wrote.
func (c *Client) Edit(id, body string) error {
	return c.enqueue(event{kind: eventEdit, id: id, text: body})
}

// Leave unsubscribes and stops the client. Events queued before Leave are
// still processed.
func (c *Client) Leave() error {
	return c.enqueue(event{kind: eventLeave})
}

func (c *Client) enqueue(e event) error {
	if !c.queue.Enqueue(e) {
		return ErrClientClosed
	}
	return nil
}

// Run processes events until ctx is cancelled or the client leaves.
// Must not run concurrently with Drain.
func (c *Client) Run(ctx context.Context) error {
	for {
		if e, ok := c.queue.TryDequeue(); ok {
			c.process(e)
			continue
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			c.publish()
			return ctx.Err()
		case <-c.queue.Wait():
			if c.queue.Closed() && c.queue.Len() == 0 {
				return nil
			}
		}
	}
}

// Drain processes every queued event, including ones enqueued while
// draining, and returns how many ran. Used instead of Run when a test
// drives delivery.
func (c *Client) Drain() int {
	n := 0
	for {
		e, ok := c.queue.TryDequeue()
		if !ok {
			return n
		}
		c.process(e)
		n++
	}
}

func (c *Client) process(e event) {
	c.logger.Debug("processing event", "event", e.kind.String(), "name", e.name, "phase", string(c.phase))

	switch e.kind {
	case eventLoad:
		c.handleLoad(e.doc)
	case eventJoin:
		c.handleJoin()
	case eventStatus:
		c.handleStatus(e.status, e.err)
	case eventBroadcast:
		c.handleBroadcast(e.name, e.payload)
	case eventPresence:
		c.handlePresence()
	case eventRosterFlush:
		c.handleRosterFlush()
	case eventChoose:
		c.handleChoose(e.index, e.text)
	case eventEdit:
		c.handleEdit(e.id, e.text)
	case eventLeave:
		c.shutdown()
	}
	c.publish()
}

func (c *Client) handleLoad(doc *scenario.Document) {
	if c.phase != PhaseAwaitingScenario || doc == nil {
		c.logger.Warn("ignoring scenario load", "phase", string(c.phase))
		return
	}
	c.doc = doc
	if c.state != nil {
		c.phase = PhaseActive
		return
	}
	c.phase = PhaseAwaitingState
}

func (c *Client) handleJoin() {
	if c.phase.Terminal() || c.channel != nil {
		return
	}
	if c.doc == nil {
		c.refuse(newActionError("join", ErrCodeNotActive, "scenario not loaded"))
		return
	}

	ch := c.pubsub.Channel(ChannelName(c.room), string(c.role))
	for _, name := range []string{session.EventStateUpdate, session.EventStateRequest, session.EventMsgAdd, session.EventMsgUpdate} {
		ch.On(transport.KindBroadcast, name, func(payload json.RawMessage) {
			_ = c.queue.Enqueue(event{kind: eventBroadcast, name: name, payload: payload})
		})
	}
	ch.On(transport.KindPresence, transport.PresenceSync, func(json.RawMessage) {
		_ = c.queue.Enqueue(event{kind: eventPresence})
	})

	err := ch.Subscribe(func(status transport.Status, err error) {
		_ = c.queue.Enqueue(event{kind: eventStatus, status: status, err: err})
	})
	if err != nil {
		c.logger.Warn("subscribe failed", "error", err)
		c.notice = fmt.Sprintf("could not join room %s: %v", c.room, err)
		return
	}
	c.channel = ch
}

func (c *Client) handleStatus(status transport.Status, err error) {
	switch status {
	case transport.StatusSubscribed:
		c.onSubscribed()
	case transport.StatusError:
		c.logger.Warn("channel error", "error", err)
		if !c.phase.Terminal() {
			c.notice = fmt.Sprintf("connection problem: %v", err)
		}
	case transport.StatusClosed:
		if !c.phase.Terminal() {
			c.notice = "connection closed"
		}
	}
}

func (c *Client) onSubscribed() {
	if c.channel == nil || c.phase.Terminal() {
		return
	}
	c.logger.Info("subscribed", "channel", ChannelName(c.room))

	c.send("track", func() error {
		return c.channel.Track(transport.Meta{
			Role:        string(c.role),
			DisplayName: c.displayName,
			JoinedAt:    c.clock.Now(),
			ClientID:    c.clientID,
		})
	})

	if c.role == session.Primary {
		if c.state == nil {
			initial := session.Initial(c.doc)
			c.state = &initial
		}
		c.phase = PhaseActive
		c.broadcast(session.EventStateUpdate, c.state)
		return
	}
	c.broadcast(session.EventStateRequest, session.StateRequest{Ask: c.role})
}

func (c *Client) handleBroadcast(name string, payload json.RawMessage) {
	if c.phase.Terminal() {
		return
	}
	switch name {
	case session.EventStateUpdate:
		var st session.State
		if err := json.Unmarshal(payload, &st); err != nil || !st.Turn.Valid() {
			c.logger.Warn("discarding malformed state", "error", err)
			return
		}
		c.adopt(st)
	case session.EventStateRequest:
		c.answerStateRequest()
	case session.EventMsgAdd:
		var m session.Message
		if err := json.Unmarshal(payload, &m); err != nil || m.ID == "" {
			c.logger.Warn("discarding malformed message", "event", name, "error", err)
			return
		}
		c.log.Add(m)
	case session.EventMsgUpdate:
		var m session.Message
		if err := json.Unmarshal(payload, &m); err != nil || m.ID == "" {
			c.logger.Warn("discarding malformed message", "event", name, "error", err)
			return
		}
		c.log.Update(m)
	}
}

// adopt applies last-writer-wins by version.
func (c *Client) adopt(st session.State) {
	if !st.Supersedes(c.state) {
		if st.Version == c.state.Version && !st.Equal(*c.state) {
			c.collisions++
			c.logger.Warn("version collision",
				"version", st.Version,
				"local_scene", c.state.SceneID,
				"remote_scene", st.SceneID,
			)
		}
		return
	}
	st = st.Clone()
	c.state = &st
	if c.phase == PhaseAwaitingState {
		c.phase = PhaseActive
	}
	c.logger.Debug("adopted state", "version", st.Version, "scene", st.SceneID, "turn", string(st.Turn))
}

// answerStateRequest re-broadcasts the local state and log so a
// (re)joining peer catches up. Without state the request is dropped.
func (c *Client) answerStateRequest() {
	if c.state == nil {
		c.logger.Debug("state request before any state; ignoring")
		return
	}
	c.broadcast(session.EventStateUpdate, c.state)
	for _, m := range c.log.Entries() {
		if m.Edited {
			c.broadcast(session.EventMsgUpdate, m)
		} else {
			c.broadcast(session.EventMsgAdd, m)
		}
	}
}

func (c *Client) handlePresence() {
	if c.channel == nil || c.phase.Terminal() {
		return
	}
	state := c.channel.PresenceState()

	if dup, ok := c.arbiter.CheckDuplicate(state); ok {
		c.duplicate = &dup
		c.notice = fmt.Sprintf("room %s already has a primary (%s); rejoin as secondary", dup.Room, dup.Keeper.DisplayName)
		c.logger.Warn("duplicate primary; redirecting", "keeper", dup.Keeper.ClientID, "primaries", dup.Count)
		c.teardown()
		c.phase = PhaseRedirected
		return
	}

	c.debouncer.Trigger(func() {
		_ = c.queue.Enqueue(event{kind: eventRosterFlush})
	})
}

func (c *Client) handleRosterFlush() {
	if c.channel == nil || c.phase.Terminal() {
		return
	}
	c.roster = c.arbiter.Roster(c.channel.PresenceState())
	c.ready = c.roster.Ready()
	c.logger.Debug("roster updated", "roster", c.roster.String(), "ready", c.ready)
}

func (c *Client) handleChoose(index int, text string) {
	if c.phase != PhaseActive || c.state == nil {
		c.refuse(newActionError("choose", ErrCodeNotActive, "session is %s", c.phase))
		return
	}
	if !c.ready {
		c.refuse(newActionError("choose", ErrCodeNotReady, "waiting for %s to join", c.role.Opposite()))
		return
	}
	if c.state.Turn != c.role {
		c.refuse(newActionError("choose", ErrCodeNotYourTurn, "it is %s's turn", c.state.Turn))
		return
	}
	scene, ok := c.doc.Scene(c.state.SceneID)
	linear, isLinear := scene.(scenario.LinearScene)
	if !ok || !isLinear || index < 0 || index >= len(linear.Choices) {
		c.refuse(newActionError("choose", ErrCodeNoSuchChoice, "scene %q has no choice %d", c.state.SceneID, index))
		return
	}

	choice := linear.Choices[index]
	next := c.state.Next(choice)
	c.state = &next
	c.lastErr = nil
	c.notice = ""
	c.broadcast(session.EventStateUpdate, c.state)

	if strings.TrimSpace(text) == "" {
		return
	}
	m := session.Message{
		ID:          c.ids.Generate(),
		Role:        c.role,
		DisplayName: c.displayName,
		SceneID:     linear.ID,
		ChoiceText:  choice.Text,
		Body:        text,
		Timestamp:   c.clock.Now(),
	}
	c.log.Add(m)
	c.broadcast(session.EventMsgAdd, m)
}

func (c *Client) handleEdit(id, body string) {
	if c.phase.Terminal() {
		c.refuse(newActionError("edit", ErrCodeNotActive, "session is %s", c.phase))
		return
	}
	m, ok := c.log.Get(id)
	if !ok {
		c.refuse(newActionError("edit", ErrCodeUnknownMessage, "no message %q", id))
		return
	}
	if m.Role != c.role {
		c.refuse(newActionError("edit", ErrCodeNotAuthor, "message %q was written by %s", id, m.Role))
		return
	}

	m.Body = body
	c.log.Update(m)
	m, _ = c.log.Get(id)
	c.lastErr = nil
	c.notice = ""
	c.broadcast(session.EventMsgUpdate, m)
}

// refuse records a refused action. Once redirected, the redirect notice
// stays on the View and refusals only show in LastError.
func (c *Client) refuse(err *ActionError) {
	c.lastErr = err
	if c.phase != PhaseRedirected {
		c.notice = err.Error()
	}
	c.logger.Info("action refused", "action", err.Action, "code", string(err.Code), "message", err.Message)
}

// broadcast sends fire-and-forget; failures are logged and noted.
func (c *Client) broadcast(name string, payload any) {
	c.send(name, func() error {
		return c.channel.Send(name, payload)
	})
}

func (c *Client) send(what string, fn func() error) {
	if c.channel == nil {
		return
	}
	if err := fn(); err != nil {
		c.logger.Warn("send failed", "event", what, "error", err)
		c.notice = fmt.Sprintf("send %s failed: %v", what, err)
	}
}

// teardown unsubscribes and stops the roster timer.
func (c *Client) teardown() {
	c.debouncer.Stop()
	if c.channel == nil {
		return
	}
	if err := c.channel.Unsubscribe(); err != nil {
		c.logger.Warn("unsubscribe failed", "error", err)
	}
	c.channel = nil
	c.ready = false
}

func (c *Client) shutdown() {
	if c.queue.Closed() {
		return
	}
	c.teardown()
	if c.phase != PhaseRedirected {
		c.phase = PhaseClosed
	}
	c.queue.Close()
	c.logger.Info("left room")
}

func (c *Client) publish() {
	v := &View{
		Room:        c.room,
		Role:        c.role,
		DisplayName: c.displayName,
		ClientID:    c.clientID,
		Phase:       c.phase,
		Log:         c.log.Entries(),
		Roster:      c.roster,
		Ready:       c.ready,
		Notice:      c.notice,
		LastError:   c.lastErr,
		Duplicate:   c.duplicate,
		Collisions:  c.collisions,
	}
	if c.state != nil {
		st := c.state.Clone()
		v.State = &st
		v.MyTurn = st.Turn == c.role
		if c.doc != nil {
			if scene, ok := c.doc.Scene(st.SceneID); ok {
				v.Scene = scene
				v.Ending = scene.Kind() == scenario.KindEnding
			}
		}
	}
	c.view.Store(v)

	select {
	case c.changed <- struct{}{}:
	default:
	}
}
