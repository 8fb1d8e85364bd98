package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error codes (E200-E299)
const (
	// Document shape (E201-E203), checked in every mode
	ErrTitleEmpty = "E201" // title is required
	ErrStartEmpty = "E202" // start is required
	ErrNoScenes   = "E203" // at least one scene required

	// References (E204-E206), strict mode only
	ErrStartUnresolved = "E204" // start does not name a scene
	ErrNextUnresolved  = "E205" // choice target does not name a scene
	ErrDuplicateScene  = "E206" // scene id declared twice

	// JSON import (E207-E208)
	ErrSchemaViolation = "E207" // document does not satisfy the schema
	ErrInvalidJSON     = "E208" // input is not a JSON document
)

// ValidationError is a single problem found in a compiled document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// CompileError reports why a script or document could not become a
// scenario. It always carries at least one ValidationError.
type CompileError struct {
	Source string
	Errors []ValidationError
}

func (e *CompileError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %s", e.Source, e.Errors[0].Error())
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%s: %d problems: %s", e.Source, len(e.Errors), strings.Join(msgs, "; "))
}

// Codes lists the validation codes in order of appearance.
func (e *CompileError) Codes() []string {
	codes := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		codes[i] = ve.Code
	}
	return codes
}

// HasCode reports whether any problem carries code.
func (e *CompileError) HasCode(code string) bool {
	for _, ve := range e.Errors {
		if ve.Code == code {
			return true
		}
	}
	return false
}

// IsCompileError returns true if err is (or wraps) a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
