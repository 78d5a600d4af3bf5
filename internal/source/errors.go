package source

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrSchema            = errors.New("schema error")
	ErrAliasAmbiguity    = errors.New("alias ambiguity")
	ErrSourceNotFound    = errors.New("source not found")
	ErrColumnMissing     = errors.New("column missing")
	ErrEmptyResult       = errors.New("empty result")
	ErrMissingProjection = errors.New("missing projection")
	ErrIO                = errors.New("i/o error")
	ErrSink              = errors.New("sink error")
	ErrUnknownAlias      = errors.New("unknown alias")
)

// Error is a failure attributed to one configured source.
type Error struct {
	Kind   error
	Alias  string
	Column string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Alias)
	b.WriteString(" - ")
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, alias, format string, args ...any) *Error {
	return &Error{Kind: kind, Alias: alias, Msg: fmt.Sprintf(format, args...)}
}

// Violation is one problem found in the configuration document.
type Violation struct {
	// Path is a JSON pointer into the document, e.g. "/0/alias".
	Path    string
	Message string
}

// SchemaError reports every violation of the source document contract.
type SchemaError struct {
	Violations []Violation
}

func (e *SchemaError) Error() string {
	if len(e.Violations) == 1 {
		v := e.Violations[0]
		return fmt.Sprintf("schema error at %s: %s", displayPath(v.Path), v.Message)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "schema error: %d violations", len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  - %s: %s", displayPath(v.Path), v.Message)
	}
	return b.String()
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
