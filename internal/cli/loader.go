package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/duet/internal/compiler"
	"github.com/roach88/duet/internal/scenario"
)

// LoadError is a failure to read a script, as opposed to a script that
// does not compile.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// scriptSource describes how to turn a file into a document.
type scriptSource struct {
	Path   string
	JSON   bool // force JSON import regardless of extension
	Strict bool
	Syntax compiler.Syntax
}

// sourceName is the file name without extension. Compile uses it as the
// default title.
func (s scriptSource) sourceName() string {
	base := filepath.Base(s.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s scriptSource) isJSON() bool {
	return s.JSON || strings.EqualFold(filepath.Ext(s.Path), ".json")
}

// loadDocument reads and compiles a script, or imports a JSON document.
// Errors are *LoadError or *compiler.CompileError.
func loadDocument(src scriptSource) (*scenario.Document, error) {
	data, err := os.ReadFile(src.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("script not found: %s", src.Path), Err: err}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: fmt.Sprintf("reading %s: %v", src.Path, err), Err: err}
	}

	if src.isJSON() {
		return compiler.ImportJSON(data, src.sourceName())
	}

	opts := []compiler.Option{compiler.WithSyntax(src.Syntax)}
	if src.Strict {
		opts = append(opts, compiler.Strict())
	}
	return compiler.Compile(string(data), src.sourceName(), opts...)
}

// problemsOf flattens a load or compile error into validation entries.
func problemsOf(err error) []compiler.ValidationError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compileErr.Errors
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return []compiler.ValidationError{{Field: "file", Message: loadErr.Message, Code: loadErr.Code}}
	}
	return []compiler.ValidationError{{Field: "file", Message: err.Error(), Code: ErrCodeGeneric}}
}

func isLoadError(err error) bool {
	var loadErr *LoadError
	return errors.As(err, &loadErr)
}
