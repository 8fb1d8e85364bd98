package session

import (
	"maps"

	"github.com/roach88/duet/internal/ledger"
	"github.com/roach88/duet/internal/scenario"
)

// State is the replicated session document.
type State struct {
	SceneID string         `json:"sceneId"`
	Vars    map[string]int `json:"vars"`
	Turn    Role           `json:"turn"`
	Version int64          `json:"version"`
}

// Initial is the state the Primary seeds a room with.
func Initial(doc *scenario.Document) State {
	return State{
		SceneID: doc.Start,
		Vars:    map[string]int{},
		Turn:    Primary,
		Version: 1,
	}
}

// Next resolves choice against s: the scene advances, effects are applied,
// the turn flips, and the version increments.
func (s State) Next(choice scenario.Choice) State {
	return State{
		SceneID: choice.Next,
		Vars:    ledger.Apply(s.Vars, choice.Effects),
		Turn:    s.Turn.Opposite(),
		Version: s.Version + 1,
	}
}

// Supersedes reports whether s should replace current. A nil current is
// always superseded.
func (s State) Supersedes(current *State) bool {
	return current == nil || s.Version > current.Version
}

// Equal compares every field; a nil Vars equals an empty one.
func (s State) Equal(o State) bool {
	return s.SceneID == o.SceneID &&
		s.Turn == o.Turn &&
		s.Version == o.Version &&
		maps.Equal(s.Vars, o.Vars)
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	s.Vars = maps.Clone(s.Vars)
	if s.Vars == nil {
		s.Vars = map[string]int{}
	}
	return s
}
