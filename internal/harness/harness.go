package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/duet/internal/compiler"
	"github.com/roach88/duet/internal/engine"
	"github.com/roach88/duet/internal/scenario"
	"github.com/roach88/duet/internal/session"
	"github.com/roach88/duet/internal/testutil"
	"github.com/roach88/duet/internal/transport"
)

// DefaultRoom is used when a scenario names no room.
const DefaultRoom = "TEST"

const presenceGrace = 50 * time.Millisecond

// Harness runs one scenario. Every client shares the hub and the
// deterministic clock; delivery is settled with Drain after each step.
type Harness struct {
	hub      *transport.Hub
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
	clients  map[string]*engine.Client
	order    []string
	result   *Result
	debounce time.Duration
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger handed to every client. Logs are discarded
// by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result. An error means the
// scenario could not run at all; failed expectations land in Result.Errors.
func Run(sc *Scenario, opts ...Option) (*Result, error) {
	if sc.Script == "" {
		return nil, fmt.Errorf("scenario %q has no script (load it with LoadScenario)", sc.Name)
	}
	doc, err := compiler.Compile(sc.Script, sc.Name)
	if err != nil {
		return nil, fmt.Errorf("compile scenario script: %w", err)
	}

	h := &Harness{
		hub:      transport.NewHub(transport.WithHubClock(testutil.NewDeterministicClock().Now)),
		clock:    testutil.NewDeterministicClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients:  make(map[string]*engine.Client),
		result:   NewResult(),
		debounce: sc.Debounce,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.hub.SetTrace(h.record)

	room := sc.Room
	if room == "" {
		room = DefaultRoom
	}
	if err := h.spawn(room, sc.Clients, doc); err != nil {
		return nil, err
	}

	for i, step := range sc.Steps {
		if err := h.execute(i, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
	}

	for _, name := range h.order {
		h.result.Views[name] = h.clients[name].View()
	}
	for _, msg := range CheckExpectations(h.result.Views, sc.Expect) {
		h.result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(h.result, sc.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) spawn(room string, specs []ClientSpec, doc *scenario.Document) error {
	for _, spec := range specs {
		role, err := session.ParseRole(spec.Role)
		if err != nil {
			return fmt.Errorf("client %s: %w", spec.Name, err)
		}
		display := spec.DisplayName
		if display == "" {
			display = spec.Name
		}
		c := engine.New(room, role, display, h.hub,
			engine.WithClock(h.clock),
			engine.WithIDGenerator(testutil.NewSequenceGenerator(spec.Name)),
			engine.WithLogger(h.logger.With("harness_client", spec.Name)),
			engine.WithDebounce(h.debounce),
		)
		if err := c.Load(doc); err != nil {
			return fmt.Errorf("client %s: %w", spec.Name, err)
		}
		h.clients[spec.Name] = c
		h.order = append(h.order, spec.Name)
	}
	h.settle()
	return nil
}

func (h *Harness) execute(index int, step Step) error {
	if step.Do == DoDrop {
		h.hub.DropNext(step.Event, step.Count)
		return nil
	}

	c := h.clients[step.Client]
	var err error
	switch step.Do {
	case DoJoin:
		err = c.Join()
	case DoChoose:
		err = c.Choose(step.Choice, step.Text)
	case DoEdit:
		err = c.Edit(step.Message, step.Body)
	case DoLeave:
		err = c.Leave()
	case DoPresence:
		// Let pending roster timers fire.
		if h.debounce > 0 {
			time.Sleep(h.debounce + presenceGrace)
		}
	}
	if err != nil {
		return err
	}
	h.settle()

	if step.ExpectError != "" {
		v := c.View()
		switch {
		case v.LastError == nil:
			h.result.AddError(fmt.Sprintf("steps[%d]: %s expected error %s, got none", index, step.Client, step.ExpectError))
		case string(v.LastError.Code) != step.ExpectError:
			h.result.AddError(fmt.Sprintf("steps[%d]: %s expected error %s, got %s", index, step.Client, step.ExpectError, v.LastError.Code))
		}
	}
	return nil
}

// settle drains every client until no client has queued events.
func (h *Harness) settle() {
	for {
		n := 0
		for _, name := range h.order {
			n += h.clients[name].Drain()
		}
		if n == 0 {
			return
		}
	}
}

func (h *Harness) record(env transport.Envelope) {
	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.logger.Warn("trace payload is not an object", "event", env.Event, "error", err)
	}
	h.result.AddTrace(env.From, env.Event, payload, env.Dropped)
}
