package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: quick_turn
description: "Primary resolves one turn into an ending"
room: QUICK
script: |
  #scene start
  Two doors.
  > Red -> red (+heat)
  #ending red
  The end.
clients:
  - { name: ann, role: primary, display_name: Ann }
  - { name: ben, role: secondary, display_name: Ben }
steps:
  - { client: ann, do: join }
  - { client: ben, do: join }
  - { client: ann, do: choose, choice: 0, text: onward }
expect:
  ben:
    phase: active
    version: 2
    scene: red
    vars: { heat: 1 }
    log: [onward]
`

const failingScenario = `name: wrong_turn
description: "Expects a version that never happens"
room: WRONG
script: |
  #scene start
  Hi.
  > Go -> start
clients:
  - { name: ann, role: primary, display_name: Ann }
  - { name: ben, role: secondary, display_name: Ben }
steps:
  - { client: ann, do: join }
  - { client: ben, do: join }
expect:
  ben:
    version: 7
`

func writeScenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "scenarios")

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute(), buf.String())
	out := buf.String()
	assert.Contains(t, out, "✓ turn_handoff (golden)")
	assert.Contains(t, out, "✓ duplicate_primary")
	assert.Contains(t, out, "0 failed")
}

func TestTestCommandFilter(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"quick_turn.yaml": passingScenario,
		"wrong_turn.yaml": failingScenario,
	})

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--filter", "quick_*"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ quick_turn")
	assert.NotContains(t, buf.String(), "wrong_turn")
	assert.Contains(t, buf.String(), "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailureExitCode(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"wrong_turn.yaml": failingScenario})

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ wrong_turn")
	assert.Contains(t, buf.String(), "expect[ben]: version")
}

func TestTestCommandJSON(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"quick_turn.yaml": passingScenario,
		"wrong_turn.yaml": failingScenario,
	})

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"quick_turn.yaml": passingScenario})
	goldenPath := filepath.Join(filepath.Dir(dir), "golden", "quick_turn.golden")

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--update"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ quick_turn (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), "state:update v=2 scene=red turn=secondary vars={heat=1}")

	// A second run compares against the file just written.
	buf.Reset()
	cmd = NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ quick_turn (golden)")

	// A stale golden fails.
	require.NoError(t, os.WriteFile(goldenPath, []byte("#1 primary state:update v=9\n"), 0o644))
	buf.Reset()
	cmd = NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "trace differs from golden at line 1")
}

func TestTestCommandEmptyDir(t *testing.T) {
	dir := writeScenarioDir(t, nil)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommandMissingPath(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "does not exist")
}

func TestDefaultGoldenDir(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"quick_turn.yaml": passingScenario})
	want := filepath.Join(filepath.Dir(dir), "golden")

	assert.Equal(t, want, defaultGoldenDir(dir))
	assert.Equal(t, want, defaultGoldenDir(filepath.Join(dir, "quick_turn.yaml")))
}
