package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/duet/internal/session"
)

// Scenario is a scripted multi-client session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Room is the room code. Defaults to "TEST".
	Room string `yaml:"room,omitempty"`

	// Script is inline scenario source. Exactly one of Script and
	// ScriptFile must be set.
	Script string `yaml:"script,omitempty"`

	// ScriptFile is a path to scenario source, relative to the scenario file.
	ScriptFile string `yaml:"script_file,omitempty"`

	// Debounce is the presence debounce. Zero flushes rosters immediately.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	Clients    []ClientSpec           `yaml:"clients"`
	Steps      []Step                 `yaml:"steps"`
	Expect     map[string]Expectation `yaml:"expect,omitempty"`
	Assertions []Assertion            `yaml:"assertions,omitempty"`
}

// ClientSpec declares one participant. Name doubles as the id prefix, so
// a client named "ann" tracks client id "ann-1" and writes "ann-2", ...
type ClientSpec struct {
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
	DisplayName string `yaml:"display_name,omitempty"`
}

// Step is one action. Client is required except for drop.
type Step struct {
	Client string `yaml:"client,omitempty"`
	Do     string `yaml:"do"`

	// choose
	Choice int    `yaml:"choice,omitempty"`
	Text   string `yaml:"text,omitempty"`

	// edit
	Message string `yaml:"message,omitempty"`
	Body    string `yaml:"body,omitempty"`

	// drop
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// ExpectError is the action error code the client must show after
	// this step settles.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	DoJoin     = "join"
	DoChoose   = "choose"
	DoEdit     = "edit"
	DoLeave    = "leave"
	DoPresence = "presence"
	DoDrop     = "drop"
)

// Expectation is checked against a client's final View. Unset fields are
// not checked.
type Expectation struct {
	Phase          string         `yaml:"phase,omitempty"`
	Version        *int64         `yaml:"version,omitempty"`
	Turn           string         `yaml:"turn,omitempty"`
	Scene          string         `yaml:"scene,omitempty"`
	Vars           map[string]int `yaml:"vars,omitempty"`
	Ready          *bool          `yaml:"ready,omitempty"`
	Redirected     *bool          `yaml:"redirected,omitempty"`
	Log            []string       `yaml:"log,omitempty"`
	Edited         []bool         `yaml:"edited,omitempty"`
	NoticeContains string         `yaml:"notice_contains,omitempty"`
	Collisions     *int           `yaml:"collisions,omitempty"`
}

// Assertion validates the broadcast trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": event appears (optionally from a role, with payload subset)
	// - "trace_order": events appear in order
	// - "trace_count": event appears exactly N times
	Type string `yaml:"type"`

	Event   string         `yaml:"event,omitempty"`
	From    string         `yaml:"from,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Events  []string       `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. A script_file is
// resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving script_file relative to basePath and inlining it.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.ScriptFile != "" {
		scriptPath := scenario.ScriptFile
		if !filepath.IsAbs(scriptPath) && basePath != "" {
			scriptPath = filepath.Join(basePath, scriptPath)
		}
		src, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: script_file: %w", err)
		}
		scenario.Script = string(src)
		scenario.ScriptFile = ""
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Unknown fields are
// rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and cross-references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Script == "") == (s.ScriptFile == "") {
		return fmt.Errorf("exactly one of script and script_file is required")
	}
	if s.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("at least one client is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	names := make(map[string]bool, len(s.Clients))
	for i, c := range s.Clients {
		if c.Name == "" {
			return fmt.Errorf("clients[%d]: name is required", i)
		}
		if names[c.Name] {
			return fmt.Errorf("clients[%d]: duplicate client name %q", i, c.Name)
		}
		names[c.Name] = true
		if _, err := session.ParseRole(c.Role); err != nil {
			return fmt.Errorf("clients[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, i, names); err != nil {
			return err
		}
	}

	for name := range s.Expect {
		if !names[name] {
			return fmt.Errorf("expect: unknown client %q", name)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(step Step, index int, clients map[string]bool) error {
	if step.Do == DoDrop {
		if step.Event == "" {
			return fmt.Errorf("steps[%d]: event is required for drop", index)
		}
		if step.Count <= 0 {
			return fmt.Errorf("steps[%d]: count must be positive for drop", index)
		}
		return nil
	}

	if !clients[step.Client] {
		return fmt.Errorf("steps[%d]: unknown client %q", index, step.Client)
	}
	switch step.Do {
	case DoJoin, DoLeave, DoPresence:
	case DoChoose:
		if step.Choice < 0 {
			return fmt.Errorf("steps[%d]: choice must be non-negative", index)
		}
	case DoEdit:
		if step.Message == "" {
			return fmt.Errorf("steps[%d]: message is required for edit", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Do)
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
