package engine

import (
	"github.com/roach88/duet/internal/presence"
	"github.com/roach88/duet/internal/scenario"
	"github.com/roach88/duet/internal/session"
)

// Phase is the client's position in the session lifecycle.
type Phase string

const (
	PhaseAwaitingScenario Phase = "awaiting_scenario"
	PhaseAwaitingState    Phase = "awaiting_state"
	PhaseActive           Phase = "active"
	PhaseRedirected       Phase = "redirected"
	PhaseClosed           Phase = "closed"
)

// Terminal reports whether no further transitions happen.
func (p Phase) Terminal() bool {
	return p == PhaseRedirected || p == PhaseClosed
}

// View is an immutable snapshot of a client, published after every event.
type View struct {
	Room        string       `json:"room"`
	Role        session.Role `json:"role"`
	DisplayName string       `json:"displayName"`
	ClientID    string       `json:"clientId"`

	Phase Phase          `json:"phase"`
	State *session.State `json:"state,omitempty"`

	// Scene is the current scene, nil until state and scenario are known.
	Scene  scenario.Scene `json:"-"`
	Ending bool           `json:"ending"`

	Log    []session.Message `json:"log"`
	Roster presence.Roster   `json:"roster"`
	Ready  bool              `json:"ready"`
	MyTurn bool              `json:"myTurn"`

	// Notice is the latest user-facing message: a refusal, a transport
	// problem, or the duplicate-role warning.
	Notice    string              `json:"notice,omitempty"`
	LastError *ActionError        `json:"lastError,omitempty"`
	Duplicate *presence.Duplicate `json:"duplicate,omitempty"`

	// Collisions counts equal-version updates whose content differed.
	Collisions int `json:"collisions,omitempty"`
}

// Choices returns the current scene's choices, if it has any.
func (v View) Choices() []scenario.Choice {
	if s, ok := v.Scene.(scenario.LinearScene); ok {
		return s.Choices
	}
	return nil
}
