package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/duet/internal/scenario"
)

// Validate checks a document and returns all problems found (does not
// fail fast). Reference checks only run when strict is true.
func Validate(doc *scenario.Document, strict bool) []ValidationError {
	var errs []ValidationError

	// E201: title is required
	if strings.TrimSpace(doc.Title) == "" {
		errs = append(errs, ValidationError{
			Field:   "title",
			Message: "title is required and must be non-empty",
			Code:    ErrTitleEmpty,
		})
	}

	// E202: start is required
	if strings.TrimSpace(doc.Start) == "" {
		errs = append(errs, ValidationError{
			Field:   "start",
			Message: "start is required and must be non-empty",
			Code:    ErrStartEmpty,
		})
	}

	// E203: at least one scene
	if len(doc.Scenes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "scenes",
			Message: "at least one scene is required",
			Code:    ErrNoScenes,
		})
	}

	if !strict {
		return errs
	}

	ids := make(map[string]bool, len(doc.Scenes))
	for i, s := range doc.Scenes {
		// E206: duplicate scene id
		if ids[s.SceneID()] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("scenes[%d].id", i),
				Message: fmt.Sprintf("duplicate scene id: %q", s.SceneID()),
				Code:    ErrDuplicateScene,
			})
		}
		ids[s.SceneID()] = true
	}

	// E204: start must resolve
	if doc.Start != "" && !ids[doc.Start] {
		errs = append(errs, ValidationError{
			Field:   "start",
			Message: fmt.Sprintf("start scene %q is not defined", doc.Start),
			Code:    ErrStartUnresolved,
		})
	}

	// E205: every choice target must resolve
	for i, s := range doc.Scenes {
		linear, ok := s.(scenario.LinearScene)
		if !ok {
			continue
		}
		for j, c := range linear.Choices {
			if !ids[c.Next] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("scenes[%d].choices[%d].next", i, j),
					Message: fmt.Sprintf("choice %q targets undefined scene %q", c.Text, c.Next),
					Code:    ErrNextUnresolved,
				})
			}
		}
	}

	return errs
}
