package dataimport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// Violation codes are stable identifiers; callers render them, the core never formats prose.
const (
	CodeRequired          = "import:required"
	CodeInvalidValue      = "import:invalidvalue"
	CodeColumnMissing     = "import:columnmissing"
	CodeMissingHeader     = "import:missingheader"
	CodeWrongEncoding     = "import:wrongencoding"
	CodeReferenceNotFound = "import:referencenotfound"
	CodeUnexpected        = "import:unexpected"
)

var (
	ErrUnknownFormat = errors.New("unknown source format")
	ErrFileNotFound  = errors.New("input file not found")
)

type Violation struct {
	Line  int    `json:"line"`
	Code  string `json:"code"`
	Field string `json:"field"`
	Info  string `json:"info,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("line %d: %s (%s) %s", v.Line, v.Code, v.Field, v.Info)
}

// ImportError is the typed failure of one row (or of the whole file at line 0 or 1).
type ImportError struct {
	Violation
	Cause error
}

func NewImportError(line int, code, field, info string) *ImportError {
	return &ImportError{Violation: Violation{Line: line, Code: code, Field: field, Info: info}}
}

func (e *ImportError) Error() string {
	if e.Cause != nil {
		return e.Violation.String() + ": " + e.Cause.Error()
	}
	return e.Violation.String()
}

func (e *ImportError) Unwrap() error {
	return e.Cause
}

// AtLine returns a copy of e reported at line.
func (e *ImportError) AtLine(line int) *ImportError {
	c := *e
	c.Line = line
	return &c
}

type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("validation failed with %d violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// ViolationsOf extracts structured violations from err, wrapping unknown errors as CodeUnexpected.
func ViolationsOf(err error) []Violation {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Violations
	}
	var ierr *ImportError
	if errors.As(err, &ierr) {
		return []Violation{ierr.Violation}
	}
	return []Violation{{Code: CodeUnexpected, Info: err.Error()}}
}

// Report is the outcome of a dry run.
type Report struct {
	Filename   string      `json:"filename"`
	Kind       string      `json:"kind"`
	Rows       int         `json:"rows"`
	Violations []Violation `json:"violations"`
}

func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Violations: r.Violations}
}

// Table renders violations as rows of (line, code, field, info) with a header row.
func (r *Report) Table() [][]string {
	return ViolationTable(r.Violations)
}

func ViolationTable(violations []Violation) [][]string {
	out := make([][]string, 0, len(violations)+1)
	out = append(out, []string{"line", "code", "field", "info"})
	for _, v := range violations {
		out = append(out, []string{strconv.Itoa(v.Line), v.Code, v.Field, v.Info})
	}
	return out
}
