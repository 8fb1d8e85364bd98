package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duet/internal/scenario"
)

func TestImportJSONValid(t *testing.T) {
	data := []byte(`{
  "title": "Cave",
  "start": "a",
  "scenes": [
    {"kind": "scene", "id": "a", "body": ["Dark."], "choices": [{"text": "Out", "next": "b", "effects": {"light": 1}}]},
    {"kind": "ending", "id": "b", "title": "Free", "body": []}
  ]
}`)

	doc, err := ImportJSON(data, "cave.json")
	require.NoError(t, err)
	assert.Equal(t, "Cave", doc.Title)
	require.Len(t, doc.Scenes, 2)
	assert.Equal(t, scenario.KindScene, doc.Scenes[0].Kind())
	assert.Equal(t, scenario.KindEnding, doc.Scenes[1].Kind())
}

func TestImportJSONRoundTripsCompilerOutput(t *testing.T) {
	doc, err := Compile(scriptA, "scenario_a")
	require.NoError(t, err)

	data, err := scenario.MarshalCanonical(doc)
	require.NoError(t, err)

	imported, err := ImportJSON(data, "scenario_a.json")
	require.NoError(t, err)
	assert.Equal(t, scenario.MustFingerprint(doc), scenario.MustFingerprint(imported))
}

func TestImportJSONSchemaViolation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing title", `{"start": "a", "scenes": [{"kind": "scene", "id": "a", "body": []}]}`},
		{"empty scenes", `{"title": "t", "start": "a", "scenes": []}`},
		{"unknown kind", `{"title": "t", "start": "a", "scenes": [{"kind": "branch", "id": "a", "body": []}]}`},
		{"effect not int", `{"title": "t", "start": "a", "scenes": [{"kind": "scene", "id": "a", "body": [], "choices": [{"text": "x", "next": "a", "effects": {"k": "up"}}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportJSON([]byte(tt.data), "bad.json")
			require.Error(t, err)

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.True(t, ce.HasCode(ErrSchemaViolation), "codes: %v", ce.Codes())
		})
	}
}

func TestImportJSONInvalidJSON(t *testing.T) {
	_, err := ImportJSON([]byte(`{"title": `), "broken.json")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.HasCode(ErrInvalidJSON), "codes: %v", ce.Codes())
}

func TestImportJSONChecksReferences(t *testing.T) {
	data := []byte(`{"title": "t", "start": "a", "scenes": [
  {"kind": "scene", "id": "a", "body": [], "choices": [{"text": "x", "next": "nowhere"}]}
]}`)

	_, err := ImportJSON(data, "refs.json")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{ErrNextUnresolved}, ce.Codes())
}
