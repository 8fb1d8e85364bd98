package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duet/internal/scenario"
)

func TestInitial(t *testing.T) {
	doc := &scenario.Document{Title: "t", Start: "intro"}
	s := Initial(doc)
	assert.Equal(t, State{SceneID: "intro", Vars: map[string]int{}, Turn: Primary, Version: 1}, s)
}

func TestNext(t *testing.T) {
	s := State{SceneID: "a", Vars: map[string]int{"fear": 1}, Turn: Primary, Version: 4}
	next := s.Next(scenario.Choice{Text: "run", Next: "b", Effects: map[string]int{"fear": -1, "speed": 1}})

	assert.Equal(t, State{
		SceneID: "b",
		Vars:    map[string]int{"fear": 0, "speed": 1},
		Turn:    Secondary,
		Version: 5,
	}, next)
	assert.Equal(t, map[string]int{"fear": 1}, s.Vars, "receiver must not change")
}

func TestSupersedes(t *testing.T) {
	older := State{SceneID: "a", Turn: Primary, Version: 1}
	newer := State{SceneID: "b", Turn: Secondary, Version: 2}

	assert.True(t, older.Supersedes(nil))
	assert.True(t, newer.Supersedes(&older))
	assert.False(t, older.Supersedes(&newer))
	assert.False(t, older.Supersedes(&older), "equal versions never supersede")
}

func TestStateEqual(t *testing.T) {
	a := State{SceneID: "a", Turn: Primary, Version: 1}
	b := State{SceneID: "a", Vars: map[string]int{}, Turn: Primary, Version: 1}
	assert.True(t, a.Equal(b))

	b.Vars["x"] = 1
	assert.False(t, a.Equal(b))
}

func TestStateCloneIsIndependent(t *testing.T) {
	s := State{SceneID: "a", Vars: map[string]int{"x": 1}, Turn: Primary, Version: 1}
	c := s.Clone()
	c.Vars["x"] = 9
	assert.Equal(t, 1, s.Vars["x"])

	empty := State{}.Clone()
	assert.NotNil(t, empty.Vars)
}

func TestStateJSONShape(t *testing.T) {
	data, err := json.Marshal(State{SceneID: "a", Vars: map[string]int{"x": 1}, Turn: Secondary, Version: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sceneId":"a","vars":{"x":1},"turn":"secondary","version":2}`, string(data))
}
