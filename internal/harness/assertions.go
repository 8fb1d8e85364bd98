package harness

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/duet/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, line := range FormatTrace(e.Trace) {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains a broadcast matching
// the event, sender and payload (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Event != assertion.Event {
			continue
		}
		if assertion.From != "" && event.From != assertion.From {
			continue
		}
		if matchPayload(event.Payload, assertion.Payload) {
			return nil
		}
	}

	expected := fmt.Sprintf("event %s", assertion.Event)
	if assertion.From != "" {
		expected += " from " + assertion.From
	}
	if len(assertion.Payload) > 0 {
		expected += fmt.Sprintf(" with payload %v", assertion.Payload)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of events appear in
// the given order. Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)

	for i, event := range trace {
		if positions[event.Event] == 0 {
			positions[event.Event] = i + 1 // 1-indexed for readability
		}
	}

	for _, name := range assertion.Events {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the event was broadcast exactly Count times,
// optionally only counting one sender. Dropped broadcasts count.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Event != assertion.Event {
			continue
		}
		if assertion.From != "" && event.From != assertion.From {
			continue
		}
		count++
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// matchPayload checks if actual contains all expected keys (subset match).
// Expected values come from YAML and are normalized through JSON so that
// integers compare equal to decoded numbers.
func matchPayload(actual map[string]any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	if actual == nil {
		return false
	}

	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, normalize(expectedVal)) {
			return false
		}
	}
	return true
}

// normalize round-trips v through JSON.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valuesEqual compares two values for equality.
// Handles nested maps and slices.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// CheckExpectations compares final views against per-client expectations.
// Clients are checked in name order for stable output.
func CheckExpectations(views map[string]engine.View, expect map[string]Expectation) []string {
	var errors []string
	for _, name := range slices.Sorted(maps.Keys(expect)) {
		v, ok := views[name]
		if !ok {
			errors = append(errors, fmt.Sprintf("expect[%s]: no such client", name))
			continue
		}
		for _, msg := range checkView(v, expect[name]) {
			errors = append(errors, fmt.Sprintf("expect[%s]: %s", name, msg))
		}
	}
	return errors
}

func checkView(v engine.View, e Expectation) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("%s = %v, want %v", field, got, want))
	}

	if e.Phase != "" && string(v.Phase) != e.Phase {
		mismatch("phase", e.Phase, v.Phase)
	}
	if e.Ready != nil && v.Ready != *e.Ready {
		mismatch("ready", *e.Ready, v.Ready)
	}
	if e.Redirected != nil && (v.Phase == engine.PhaseRedirected) != *e.Redirected {
		mismatch("redirected", *e.Redirected, v.Phase == engine.PhaseRedirected)
	}
	if e.NoticeContains != "" && !strings.Contains(v.Notice, e.NoticeContains) {
		errs = append(errs, fmt.Sprintf("notice %q does not contain %q", v.Notice, e.NoticeContains))
	}
	if e.Collisions != nil && v.Collisions != *e.Collisions {
		mismatch("collisions", *e.Collisions, v.Collisions)
	}

	if e.Version != nil || e.Turn != "" || e.Scene != "" || e.Vars != nil {
		if v.State == nil {
			errs = append(errs, "state is nil")
		} else {
			st := v.State
			if e.Version != nil && st.Version != *e.Version {
				mismatch("version", *e.Version, st.Version)
			}
			if e.Turn != "" && string(st.Turn) != e.Turn {
				mismatch("turn", e.Turn, st.Turn)
			}
			if e.Scene != "" && st.SceneID != e.Scene {
				mismatch("scene", e.Scene, st.SceneID)
			}
			if e.Vars != nil && !maps.Equal(st.Vars, e.Vars) {
				mismatch("vars", e.Vars, st.Vars)
			}
		}
	}

	if e.Log != nil {
		bodies := make([]string, len(v.Log))
		for i, m := range v.Log {
			bodies[i] = m.Body
		}
		if !slices.Equal(bodies, e.Log) {
			mismatch("log", e.Log, bodies)
		}
	}
	if e.Edited != nil {
		edited := make([]bool, len(v.Log))
		for i, m := range v.Log {
			edited[i] = m.Edited
		}
		if !slices.Equal(edited, e.Edited) {
			mismatch("edited", e.Edited, edited)
		}
	}
	return errs
}
