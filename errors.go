package apollo

import (
	"errors"
	"strings"
)

// Error is the apollo error domain type.
//
// Errors coming from apollo components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of apollo components should create an Error at the system
// boundary (e.g. when using a database client or fetching repository
// metadata) and intermediate layers should not wrap in another Error except
// to add additional [ErrorKind] information. That is to say, use [fmt.Errorf]
// with a "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrInvalidNEVRA,
		ErrFetch,
		ErrDecode,
		ErrSchema,
		ErrIntegrity,
		ErrConflict,
		ErrProductUnknown,
		ErrSliceEmpty,
		ErrCanceled:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
type ErrorKind string

// Defined error kinds.
var (
	ErrInvalidNEVRA   = ErrorKind("invalid nevra")          // malformed NEVRA string
	ErrFetch          = ErrorKind("fetch")                  // HTTP non-2xx or network failure
	ErrDecode         = ErrorKind("decode")                 // decompression or parse failure
	ErrSchema         = ErrorKind("schema")                 // metadata missing a required element
	ErrIntegrity      = ErrorKind("integrity violation")    // cross-product row detected
	ErrConflict       = ErrorKind("transaction conflict")   // concurrent writer raced on a unique row
	ErrProductUnknown = ErrorKind("product unknown")        // no such product
	ErrSliceEmpty     = ErrorKind("slice empty")            // no advisories for the requested slice
	ErrCanceled       = ErrorKind("cancellation requested") // context canceled mid-operation
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
