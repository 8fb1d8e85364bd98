package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duet/internal/engine"
)

const forkScript = `#scene start
Hello
> Go left -> left (+courage)
#ending left
엔딩: You win
The end`

func TestScenarios(t *testing.T) {
	files, err := Discover("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			sc, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)

			_, err = CheckGolden("testdata/golden", sc.Name, result)
			assert.NoError(t, err)
		})
	}
}

func TestRunWithGolden_TurnHandoff(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/turn_handoff.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TraceIsDeterministic(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/late_joiner.yaml")
	require.NoError(t, err)

	first, err := Run(sc)
	require.NoError(t, err)
	second, err := Run(sc)
	require.NoError(t, err)

	assert.Equal(t, TraceText(first.Trace), TraceText(second.Trace))
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_DroppedBroadcastIsTraced(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/late_joiner.yaml")
	require.NoError(t, err)

	result, err := Run(sc)
	require.NoError(t, err)

	var dropped []TraceEvent
	for _, ev := range result.Trace {
		if ev.Dropped {
			dropped = append(dropped, ev)
		}
	}
	require.Len(t, dropped, 1)
	assert.Equal(t, "state:update", dropped[0].Event)
	assert.Equal(t, float64(2), dropped[0].Payload["version"])
}

func TestRun_FailedExpectationsReported(t *testing.T) {
	version := int64(7)
	sc := &Scenario{
		Name:        "wrong",
		Description: "expectations that cannot hold",
		Script:      forkScript,
		Clients:     []ClientSpec{{Name: "ann", Role: "primary"}},
		Steps: []Step{
			{Client: "ann", Do: DoJoin},
			{Client: "ann", Do: DoChoose, Choice: 0, ExpectError: "NOT_YOUR_TURN"},
		},
		Expect: map[string]Expectation{
			"ann": {Phase: "closed", Version: &version, Log: []string{"x"}},
		},
		Assertions: []Assertion{{Type: AssertTraceCount, Event: "msg:add", Count: 1}},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "expected error NOT_YOUR_TURN, got NOT_READY")
	assert.Contains(t, joined, "expect[ann]: phase = active, want closed")
	assert.Contains(t, joined, "expect[ann]: version = 1, want 7")
	assert.Contains(t, joined, "expect[ann]: log = [], want [x]")
	assert.Contains(t, joined, "Assertion failed: trace_count")
}

func TestRun_ViewsForEveryClient(t *testing.T) {
	sc := &Scenario{
		Name:        "views",
		Description: "views are captured",
		Script:      forkScript,
		Clients: []ClientSpec{
			{Name: "ann", Role: "primary", DisplayName: "Ann"},
			{Name: "ben", Role: "secondary"},
		},
		Steps: []Step{{Client: "ann", Do: DoJoin}},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	require.Contains(t, result.Views, "ann")
	require.Contains(t, result.Views, "ben")

	assert.Equal(t, engine.PhaseActive, result.Views["ann"].Phase)
	assert.Equal(t, "ann-1", result.Views["ann"].ClientID)
	assert.Equal(t, "Ann", result.Views["ann"].DisplayName)
	assert.Equal(t, "ben", result.Views["ben"].DisplayName, "display name defaults to client name")
	assert.Equal(t, engine.PhaseAwaitingState, result.Views["ben"].Phase)
	assert.Equal(t, DefaultRoom, result.Views["ben"].Room)
}

func TestRun_RequiresScript(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", ScriptFile: "a.duet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no script")
}

func TestRun_CompileErrorAborts(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Script: "no scenes here", Clients: []ClientSpec{{Name: "a", Role: "primary"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile scenario script")
}
