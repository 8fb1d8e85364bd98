package compiler

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/duet/internal/scenario"
)

// parseState is the parser's position in the scene structure.
type parseState int

const (
	stateOutside parseState = iota
	stateInScene
	stateInEnding
)

func (s parseState) String() string {
	switch s {
	case stateInScene:
		return "InScene"
	case stateInEnding:
		return "InEnding"
	default:
		return "Outside"
	}
}

type options struct {
	strict bool
	syntax Syntax
}

// Option configures Compile and ImportJSON.
type Option func(*options)

// Strict enables reference checks (start, choice targets, unique ids).
func Strict() Option {
	return func(o *options) {
		o.strict = true
	}
}

// WithSyntax overrides the marker tokens. Empty fields keep their defaults.
func WithSyntax(s Syntax) Option {
	return func(o *options) {
		o.syntax = s.withDefaults()
	}
}

func buildOptions(opts []Option) options {
	o := options{syntax: DefaultSyntax()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Compile parses script text into a document and validates it.
// sourceName is used as the default title and in error messages.
func Compile(src, sourceName string, opts ...Option) (*scenario.Document, error) {
	o := buildOptions(opts)

	p := newParser(o.syntax)
	for i, line := range strings.Split(src, "\n") {
		p.feed(i+1, line)
	}
	doc := p.finish(sourceName)

	if errs := Validate(doc, o.strict); len(errs) > 0 {
		for i := range errs {
			errs[i].Line = p.lineFor(errs[i].Field)
		}
		return nil, &CompileError{Source: sourceName, Errors: errs}
	}
	return doc, nil
}

// parser accumulates scenes. Exactly one of scene/ending is live,
// selected by state.
type parser struct {
	syntax   Syntax
	choiceRe *regexp.Regexp

	state        parseState
	scene        scenario.LinearScene
	ending       scenario.Ending
	endingTitled bool

	title  string
	start  string
	scenes []scenario.Scene

	// lines maps field paths ("scenes[1]", "scenes[1].choices[0]") to
	// source lines for error reporting.
	lines map[string]int
}

func newParser(syntax Syntax) *parser {
	return &parser{
		syntax: syntax,
		choiceRe: regexp.MustCompile(
			`^` + regexp.QuoteMeta(syntax.Choice) + `\s*(.+?)\s*->\s*([^\s()]+)\s*(?:\(([^)]*)\))?$`,
		),
		lines: make(map[string]int),
	}
}

func (p *parser) feed(lineNo int, raw string) {
	line := strings.TrimSpace(norm.NFC.String(raw))
	if line == "" {
		return
	}

	if p.state == stateOutside && p.directive(line) {
		return
	}
	if rest, ok := cutMarker(line, p.syntax.Scene); ok {
		if id := firstField(rest); id != "" {
			p.close()
			p.state = stateInScene
			p.scene = scenario.LinearScene{ID: id, Body: []string{}}
			p.lines[fmt.Sprintf("scenes[%d]", len(p.scenes))] = lineNo
			return
		}
	}
	if rest, ok := cutMarker(line, p.syntax.Ending); ok {
		if id := firstField(rest); id != "" {
			p.close()
			p.state = stateInEnding
			p.ending = scenario.Ending{ID: id, Body: []string{}}
			p.endingTitled = false
			p.lines[fmt.Sprintf("scenes[%d]", len(p.scenes))] = lineNo
			return
		}
	}
	if strings.HasPrefix(line, p.syntax.Choice) {
		if p.state != stateInScene {
			return
		}
		if c, ok := p.parseChoice(line); ok {
			p.lines[fmt.Sprintf("scenes[%d].choices[%d]", len(p.scenes), len(p.scene.Choices))] = lineNo
			p.scene.Choices = append(p.scene.Choices, c)
		}
		return
	}

	switch p.state {
	case stateInScene:
		p.scene.Body = append(p.scene.Body, line)
	case stateInEnding:
		if !p.endingTitled && strings.HasPrefix(line, p.syntax.EndingTitle) {
			p.ending.Title = line
			p.endingTitled = true
			return
		}
		p.ending.Body = append(p.ending.Body, line)
	}
}

// directive applies a header directive. Directives only count before the
// first scene; inside a scene the same text is an ordinary body line.
func (p *parser) directive(line string) bool {
	if rest, ok := cutMarker(line, p.syntax.Title); ok {
		p.title = rest
		return true
	}
	if rest, ok := cutMarker(line, p.syntax.Start); ok {
		if id := firstField(rest); id != "" {
			p.start = id
		}
		return true
	}
	return false
}

// close pushes the scene being accumulated, if any.
func (p *parser) close() {
	switch p.state {
	case stateInScene:
		p.scenes = append(p.scenes, p.scene)
	case stateInEnding:
		p.scenes = append(p.scenes, p.ending)
	}
	p.state = stateOutside
	p.scene = scenario.LinearScene{}
	p.ending = scenario.Ending{}
}

func (p *parser) finish(sourceName string) *scenario.Document {
	p.close()

	doc := &scenario.Document{
		Title:  p.title,
		Start:  p.start,
		Scenes: p.scenes,
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSpace(sourceName)
	}
	if doc.Start == "" {
		if len(doc.Scenes) > 0 {
			doc.Start = doc.Scenes[0].SceneID()
		} else {
			doc.Start = scenario.FallbackStart
		}
	}
	if doc.Scenes == nil {
		doc.Scenes = []scenario.Scene{}
	}
	return doc
}

func (p *parser) parseChoice(line string) (scenario.Choice, bool) {
	m := p.choiceRe.FindStringSubmatch(line)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return scenario.Choice{}, false
	}
	return scenario.Choice{
		Text:    strings.TrimSpace(m[1]),
		Next:    m[2],
		Effects: parseEffects(m[3]),
	}, true
}

// lineFor finds the source line for a validation field path by walking up
// to the nearest recorded prefix.
func (p *parser) lineFor(field string) int {
	for field != "" {
		if line, ok := p.lines[field]; ok {
			return line
		}
		i := strings.LastIndexByte(field, '.')
		if i < 0 {
			break
		}
		field = field[:i]
	}
	return 0
}

// parseEffects reads "+courage, -fear luck". "-" gives -1, anything else
// +1; repeated names accumulate. Returns nil when nothing parses.
func parseEffects(spec string) map[string]int {
	tokens := strings.FieldsFunc(spec, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	var effects map[string]int
	for _, tok := range tokens {
		delta := 1
		name := tok
		switch tok[0] {
		case '-':
			delta = -1
			name = tok[1:]
		case '+':
			name = tok[1:]
		}
		if name == "" {
			continue
		}
		if effects == nil {
			effects = make(map[string]int)
		}
		effects[name] += delta
	}
	return effects
}

// cutMarker matches "<marker><space><rest>" and returns the trimmed rest.
// A bare marker matches with an empty rest.
func cutMarker(line, marker string) (string, bool) {
	if marker == "" || !strings.HasPrefix(line, marker) {
		return "", false
	}
	rest := line[len(marker):]
	if rest == "" {
		return "", true
	}
	r := []rune(rest)[0]
	if !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
