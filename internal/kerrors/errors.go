// Package kerrors declares the kernel's error taxonomy (spec §7). Each kind
// is a Kind value carried by the single Error type, so callers can use
// errors.As to reach the *Error, or errors.Is against New(kind, "") to match
// on Kind, regardless of the wrapping fmt.Errorf chain built up as the
// error propagates from a step through its enclosing recipes.
package kerrors

import "fmt"

// Kind identifies one row of the error taxonomy table.
type Kind string

const (
	LoadError              Kind = "LoadError"
	MergeConflict           Kind = "MergeConflict"
	SchemaError             Kind = "SchemaError"
	TypeMismatch            Kind = "TypeMismatch"
	UnresolvedAlias         Kind = "UnresolvedAlias"
	UnsetInExpression       Kind = "UnsetInExpression"
	AssignBasedOnUnmatched  Kind = "AssignBasedOnUnmatched"
	MissingRequiredOutput   Kind = "MissingRequiredOutput"
	BackendUnavailable      Kind = "BackendUnavailable"
	Timeout                 Kind = "Timeout"
	Cancelled               Kind = "Cancelled"
	CabFailure              Kind = "CabFailure"
	IncludeNotFound         Kind = "IncludeNotFound"
	ScrubPathMissing        Kind = "ScrubPathMissing"
	BadArgumentType         Kind = "BadArgumentType"
)

// Error is a kernel error tagged with its taxonomy Kind, the fully-qualified
// name of the step/recipe it occurred in (if any), and the underlying cause.
type Error struct {
	Kind   Kind
	FQName string // fully-qualified step/recipe name, empty if not applicable
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.FQName != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.FQName, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kind-tagged error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs a kind-tagged error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// WithFQName returns a copy of e annotated with the failing step's
// fully-qualified name, as required by the §7 propagation rule: "The caller
// receives a terminal condition with the failing step's fully-qualified
// name, the captured standard-error tail, and any accumulated warnings."
func (e *Error) WithFQName(fqname string) *Error {
	cp := *e
	cp.FQName = fqname
	return &cp
}

// Is supports errors.Is(err, kerrors.New(kind, "")) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
