package compiler

// Syntax holds the marker tokens recognised by the script parser.
type Syntax struct {
	Scene       string
	Ending      string
	Choice      string
	EndingTitle string
	Title       string
	Start       string
}

// DefaultSyntax returns the stock markers.
func DefaultSyntax() Syntax {
	return Syntax{
		Scene:       "#scene",
		Ending:      "#ending",
		Choice:      ">",
		EndingTitle: "엔딩:",
		Title:       "#title",
		Start:       "#start",
	}
}

// withDefaults fills empty markers from DefaultSyntax.
func (s Syntax) withDefaults() Syntax {
	d := DefaultSyntax()
	if s.Scene == "" {
		s.Scene = d.Scene
	}
	if s.Ending == "" {
		s.Ending = d.Ending
	}
	if s.Choice == "" {
		s.Choice = d.Choice
	}
	if s.EndingTitle == "" {
		s.EndingTitle = d.EndingTitle
	}
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Start == "" {
		s.Start = d.Start
	}
	return s
}
