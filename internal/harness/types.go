package harness

import (
	"github.com/roach88/duet/internal/engine"
)

// TraceEvent is one broadcast observed on the hub, dropped ones included.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	From    string         `json:"from"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
	Dropped bool           `json:"dropped,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation, client expectation and
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds every broadcast in send order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Views are the final client snapshots keyed by client name.
	Views map[string]engine.View `json:"views,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Views:  make(map[string]engine.View),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a broadcast to the trace.
func (r *Result) AddTrace(from, event string, payload map[string]any, dropped bool) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		From:    from,
		Event:   event,
		Payload: payload,
		Dropped: dropped,
	})
}
