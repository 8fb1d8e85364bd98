package compiler

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duet/internal/scenario"
)

const scriptA = "#scene start\nHello\n> Go left -> left (+courage)\n#ending left\n엔딩: You win\nThe end"

func TestCompileScenarioA(t *testing.T) {
	doc, err := Compile(scriptA, "scenario_a")
	require.NoError(t, err)

	assert.Equal(t, "scenario_a", doc.Title)
	assert.Equal(t, "start", doc.Start)
	require.Len(t, doc.Scenes, 2)

	start, ok := doc.Scenes[0].(scenario.LinearScene)
	require.True(t, ok, "first scene should be linear")
	assert.Equal(t, "start", start.ID)
	assert.Equal(t, []string{"Hello"}, start.Body)
	assert.Equal(t, []scenario.Choice{
		{Text: "Go left", Next: "left", Effects: map[string]int{"courage": 1}},
	}, start.Choices)

	ending, ok := doc.Scenes[1].(scenario.Ending)
	require.True(t, ok, "second scene should be an ending")
	assert.Equal(t, "left", ending.ID)
	assert.Equal(t, "엔딩: You win", ending.Title)
	assert.Equal(t, []string{"The end"}, ending.Body)
}

func TestCompileScenarioAGolden(t *testing.T) {
	doc, err := Compile(scriptA, "scenario_a")
	require.NoError(t, err)

	out, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "scenario_a", append(out, '\n'))
}

func TestCompileDeterministic(t *testing.T) {
	script := `#title Cave
#scene a
Dark.
> Light torch -> b (+light, -fear)
> Wait -> c
#scene b
Bright.
> Leave -> c (luck)
#ending c
엔딩: Out
Fresh air.`

	first, err := Compile(script, "cave")
	require.NoError(t, err)
	second, err := Compile(script, "cave")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, scenario.MustFingerprint(first), scenario.MustFingerprint(second))
}

func TestCompileEffects(t *testing.T) {
	tests := []struct {
		name string
		line string
		want map[string]int
	}{
		{"plus", "> x -> b (+courage)", map[string]int{"courage": 1}},
		{"minus", "> x -> b (-fear)", map[string]int{"fear": -1}},
		{"unsigned counts as plus", "> x -> b (luck)", map[string]int{"luck": 1}},
		{"comma and space separated", "> x -> b (+a, -b c)", map[string]int{"a": 1, "b": -1, "c": 1}},
		{"repeats accumulate", "> x -> b (+a +a -b)", map[string]int{"a": 2, "b": -1}},
		{"bare signs ignored", "> x -> b (+ -)", nil},
		{"empty parens", "> x -> b ()", nil},
		{"no parens", "> x -> b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Compile("#scene a\n"+tt.line+"\n#scene b", "effects")
			require.NoError(t, err)
			a := doc.Scenes[0].(scenario.LinearScene)
			require.Len(t, a.Choices, 1)
			assert.Equal(t, tt.want, a.Choices[0].Effects)
		})
	}
}

func TestCompileDropsMalformedChoices(t *testing.T) {
	script := `> orphan -> a
#scene a
> no arrow here
> -> missing label
> ok -> b
> trailing -> b junk
#ending b
> endings have no choices -> a
Bye`

	doc, err := Compile(script, "malformed")
	require.NoError(t, err)

	a := doc.Scenes[0].(scenario.LinearScene)
	assert.Equal(t, []scenario.Choice{{Text: "ok", Next: "b"}}, a.Choices)
	assert.Empty(t, a.Body, "malformed choices must not leak into the body")

	b := doc.Scenes[1].(scenario.Ending)
	assert.Equal(t, []string{"Bye"}, b.Body)
}

func TestCompileEndingTitleCapturedOnce(t *testing.T) {
	doc, err := Compile("#ending e\n엔딩: First\n엔딩: Second\nText", "titles")
	require.NoError(t, err)

	e := doc.Scenes[0].(scenario.Ending)
	assert.Equal(t, "엔딩: First", e.Title)
	assert.Equal(t, []string{"엔딩: Second", "Text"}, e.Body)
}

func TestCompileLinearSceneKeepsTitleMarkerAsBody(t *testing.T) {
	doc, err := Compile("#scene s\n엔딩: not a title", "body")
	require.NoError(t, err)
	assert.Equal(t, []string{"엔딩: not a title"}, doc.Scenes[0].(scenario.LinearScene).Body)
}

func TestCompileDefaultsAndDirectives(t *testing.T) {
	doc, err := Compile("#scene one\n#scene two", "  story.txt  ")
	require.NoError(t, err)
	assert.Equal(t, "story.txt", doc.Title)
	assert.Equal(t, "one", doc.Start)

	doc, err = Compile("#title The Cave\n#start two\n#scene one\n#scene two", "story.txt")
	require.NoError(t, err)
	assert.Equal(t, "The Cave", doc.Title)
	assert.Equal(t, "two", doc.Start)
}

func TestCompileIgnoresTextOutsideScenes(t *testing.T) {
	doc, err := Compile("preamble\n\n   \n#scene a\n  body  \r\n", "outside")
	require.NoError(t, err)
	require.Len(t, doc.Scenes, 1)
	assert.Equal(t, []string{"body"}, doc.Scenes[0].(scenario.LinearScene).Body)
}

func TestCompileBareMarkerIsBody(t *testing.T) {
	doc, err := Compile("#scene a\n#scene\n#scenery", "bare")
	require.NoError(t, err)
	require.Len(t, doc.Scenes, 1)
	assert.Equal(t, []string{"#scene", "#scenery"}, doc.Scenes[0].(scenario.LinearScene).Body)
}

func TestCompileEmptyScript(t *testing.T) {
	_, err := Compile("\n\n", "")
	require.Error(t, err)
	require.True(t, IsCompileError(err))

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{ErrTitleEmpty, ErrNoScenes}, ce.Codes())
}

func TestCompileDirectivesOnlyBeforeFirstScene(t *testing.T) {
	src := "#title Museum\n#scene hall\n#title card on the wall\n> On -> vault\n#ending vault\n#start over\nDone."
	doc, err := Compile(src, "museum")
	require.NoError(t, err)

	assert.Equal(t, "Museum", doc.Title)
	assert.Equal(t, "hall", doc.Start)
	hall := doc.Scenes[0].(scenario.LinearScene)
	assert.Equal(t, []string{"#title card on the wall"}, hall.Body)
	assert.Equal(t, []string{"#start over", "Done."}, doc.Scenes[1].(scenario.Ending).Body)
}

func TestCompileLenientAllowsDanglingReferences(t *testing.T) {
	doc, err := Compile("#start nowhere\n#scene a\n> go -> missing", "lenient")
	require.NoError(t, err)
	assert.Equal(t, "nowhere", doc.Start)
}

func TestCompileStrictReportsReferencesWithLines(t *testing.T) {
	script := "#start nowhere\n#scene a\n> go -> missing\n#scene a"

	_, err := Compile(script, "strict.txt", Strict())
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.HasCode(ErrStartUnresolved))
	assert.True(t, ce.HasCode(ErrNextUnresolved))
	assert.True(t, ce.HasCode(ErrDuplicateScene))

	for _, ve := range ce.Errors {
		switch ve.Code {
		case ErrNextUnresolved:
			assert.Equal(t, 3, ve.Line)
		case ErrDuplicateScene:
			assert.Equal(t, 4, ve.Line)
		}
	}
	assert.Contains(t, err.Error(), "strict.txt")
}

func TestCompileCustomSyntax(t *testing.T) {
	syntax := Syntax{Scene: "@scene", Ending: "@end", Choice: "*", EndingTitle: "Ending:"}
	doc, err := Compile("@scene a\n* go -> b (+x)\n@end b\nEnding: Done", "custom", WithSyntax(syntax))
	require.NoError(t, err)
	require.Len(t, doc.Scenes, 2)
	assert.Equal(t, "b", doc.Scenes[0].(scenario.LinearScene).Choices[0].Next)
	assert.Equal(t, "Ending: Done", doc.Scenes[1].(scenario.Ending).Title)
}
