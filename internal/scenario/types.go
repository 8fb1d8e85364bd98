package scenario

import (
	"encoding/json"
	"fmt"
)

// FallbackStart is the start id used when a script declares no scenes.
const FallbackStart = "start"

// Kind tags a scene variant in JSON.
type Kind string

const (
	KindScene  Kind = "scene"
	KindEnding Kind = "ending"
)

// Scene is a sealed interface; only LinearScene and Ending implement it.
type Scene interface {
	SceneID() string
	Kind() Kind
	isScene()
}

// Choice moves the session to Next and applies Effects to the variable ledger.
type Choice struct {
	Text    string         `json:"text"`
	Next    string         `json:"next"`
	Effects map[string]int `json:"effects,omitempty"`
}

// LinearScene is a non-terminal scene.
type LinearScene struct {
	ID      string   `json:"id"`
	Body    []string `json:"body"`
	Choices []Choice `json:"choices"`
}

func (s LinearScene) SceneID() string { return s.ID }
func (LinearScene) Kind() Kind        { return KindScene }
func (LinearScene) isScene()          {}

// Ending is a terminal scene. Title may be empty.
type Ending struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Body  []string `json:"body"`
}

func (e Ending) SceneID() string { return e.ID }
func (Ending) Kind() Kind        { return KindEnding }
func (Ending) isScene()          {}

// Document is a compiled scenario.
type Document struct {
	Title  string  `json:"title"`
	Start  string  `json:"start"`
	Scenes []Scene `json:"-"`
}

// Scene returns the scene with the given id.
// When ids repeat (only possible in lenient compiles) the first one wins.
func (d *Document) Scene(id string) (Scene, bool) {
	if d == nil {
		return nil, false
	}
	for _, s := range d.Scenes {
		if s.SceneID() == id {
			return s, true
		}
	}
	return nil, false
}

// SceneIDs returns scene ids in declaration order.
func (d *Document) SceneIDs() []string {
	ids := make([]string, 0, len(d.Scenes))
	for _, s := range d.Scenes {
		ids = append(ids, s.SceneID())
	}
	return ids
}

// Endings counts terminal scenes.
func (d *Document) Endings() int {
	n := 0
	for _, s := range d.Scenes {
		if s.Kind() == KindEnding {
			n++
		}
	}
	return n
}

// sceneEnvelope is the wire form of a Scene: a kind tag plus the union of
// variant fields.
type sceneEnvelope struct {
	Kind    Kind     `json:"kind"`
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Body    []string `json:"body"`
	Choices []Choice `json:"choices,omitempty"`
}

type documentJSON struct {
	Title  string          `json:"title"`
	Start  string          `json:"start"`
	Scenes []sceneEnvelope `json:"scenes"`
}

// MarshalJSON encodes scenes as tagged envelopes.
func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		Title:  d.Title,
		Start:  d.Start,
		Scenes: make([]sceneEnvelope, 0, len(d.Scenes)),
	}
	for _, s := range d.Scenes {
		env, err := envelopeFor(s)
		if err != nil {
			return nil, err
		}
		out.Scenes = append(out.Scenes, env)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes tagged scene envelopes.
func (d *Document) UnmarshalJSON(data []byte) error {
	var in documentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	scenes := make([]Scene, 0, len(in.Scenes))
	for i, env := range in.Scenes {
		s, err := env.scene()
		if err != nil {
			return fmt.Errorf("scenes[%d]: %w", i, err)
		}
		scenes = append(scenes, s)
	}
	d.Title = in.Title
	d.Start = in.Start
	d.Scenes = scenes
	return nil
}

func envelopeFor(s Scene) (sceneEnvelope, error) {
	switch v := s.(type) {
	case LinearScene:
		return sceneEnvelope{Kind: KindScene, ID: v.ID, Body: nonNil(v.Body), Choices: v.Choices}, nil
	case *LinearScene:
		return envelopeFor(*v)
	case Ending:
		return sceneEnvelope{Kind: KindEnding, ID: v.ID, Title: v.Title, Body: nonNil(v.Body)}, nil
	case *Ending:
		return envelopeFor(*v)
	default:
		return sceneEnvelope{}, fmt.Errorf("unsupported scene type %T", s)
	}
}

func (e sceneEnvelope) scene() (Scene, error) {
	switch e.Kind {
	case KindScene:
		return LinearScene{ID: e.ID, Body: nonNil(e.Body), Choices: e.Choices}, nil
	case KindEnding:
		return Ending{ID: e.ID, Title: e.Title, Body: nonNil(e.Body)}, nil
	default:
		return nil, fmt.Errorf("unknown scene kind %q", e.Kind)
	}
}

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
