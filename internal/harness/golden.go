package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/duet/internal/session"
)

// FormatTrace renders one line per broadcast:
//
//	#3 primary state:update v=2 scene=left turn=secondary vars={courage=1}
//	#4 primary msg:add id=ann-2 scene=start choice="Go left" body="hello"
//
// Timestamps and display names are left out so traces stay readable.
func FormatTrace(trace []TraceEvent) []string {
	lines := make([]string, len(trace))
	for i, ev := range trace {
		line := fmt.Sprintf("#%d %s %s", ev.Seq, ev.From, ev.Event)
		if summary := summarize(ev); summary != "" {
			line += " " + summary
		}
		if ev.Dropped {
			line += " (dropped)"
		}
		lines[i] = line
	}
	return lines
}

func summarize(ev TraceEvent) string {
	p := ev.Payload
	switch ev.Event {
	case session.EventStateUpdate:
		return fmt.Sprintf("v=%v scene=%v turn=%v vars=%s", p["version"], p["sceneId"], p["turn"], formatVars(p["vars"]))
	case session.EventStateRequest:
		return fmt.Sprintf("ask=%v", p["ask"])
	case session.EventMsgAdd, session.EventMsgUpdate:
		s := fmt.Sprintf("id=%v scene=%v choice=%q body=%q", p["id"], p["sceneId"], p["choiceText"], p["body"])
		if edited, _ := p["edited"].(bool); edited {
			s += " edited"
		}
		return s
	default:
		return ""
	}
}

func formatVars(v any) string {
	vars, _ := v.(map[string]any)
	parts := make([]string, 0, len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, vars[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// TraceText joins FormatTrace lines with a trailing newline.
func TraceText(trace []TraceEvent) []byte {
	if len(trace) == 0 {
		return nil
	}
	return []byte(strings.Join(FormatTrace(trace), "\n") + "\n")
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(sc)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, sc.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, TraceText(result.Trace))
}

// CheckGolden compares a result's trace against dir/<name>.golden when
// that file exists. found reports whether a golden file was present.
func CheckGolden(dir, name string, result *Result) (found bool, err error) {
	want, err := os.ReadFile(filepath.Join(dir, name+".golden"))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read golden: %w", err)
	}

	got := TraceText(result.Trace)
	if bytes.Equal(got, want) {
		return true, nil
	}
	wantLines := strings.Split(strings.TrimSuffix(string(want), "\n"), "\n")
	gotLines := strings.Split(strings.TrimSuffix(string(got), "\n"), "\n")
	for i := 0; i < max(len(wantLines), len(gotLines)); i++ {
		var w, g string
		if i < len(wantLines) {
			w = wantLines[i]
		}
		if i < len(gotLines) {
			g = gotLines[i]
		}
		if w != g {
			return true, fmt.Errorf("trace differs from golden at line %d:\n  want: %s\n  got:  %s", i+1, w, g)
		}
	}
	return true, fmt.Errorf("trace differs from golden")
}
