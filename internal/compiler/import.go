package compiler

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/duet/internal/scenario"
)

//go:embed schema.cue
var schemaSource string

// ImportJSON validates a JSON scenario document against the embedded CUE
// schema and decodes it. Imported documents are always checked strictly.
func ImportJSON(data []byte, sourceName string) (*scenario.Document, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Document"))

	value := ctx.CompileBytes(data, cue.Filename(sourceName))
	if err := value.Err(); err != nil {
		return nil, &CompileError{Source: sourceName, Errors: fromCUEError(err, ErrInvalidJSON)}
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &CompileError{Source: sourceName, Errors: fromCUEError(err, ErrSchemaViolation)}
	}

	var doc scenario.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CompileError{Source: sourceName, Errors: []ValidationError{{
			Field:   "document",
			Message: err.Error(),
			Code:    ErrInvalidJSON,
		}}}
	}

	if errs := Validate(&doc, true); len(errs) > 0 {
		return nil, &CompileError{Source: sourceName, Errors: errs}
	}
	return &doc, nil
}

// fromCUEError flattens CUE's multi-error into validation errors.
func fromCUEError(err error, code string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: e.Error(),
			Code:    code,
		}
		if ve.Field == "" {
			ve.Field = "document"
		}
		if pos := e.Position(); pos.IsValid() {
			ve.Line = pos.Line()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "document", Message: err.Error(), Code: code})
	}
	return out
}
