// Package errs defines the typed error taxonomy surfaced by every public
// operation in datatree. Callers branch on Kind rather than matching error
// text.
package errs

import "fmt"

// Kind classifies an Error so callers can react programmatically instead of
// string-matching.
type Kind int

const (
	// KindArgumentNil reports a required argument that was nil.
	KindArgumentNil Kind = iota
	// KindArgument reports a malformed path, name, or unsupported property
	// flag combination.
	KindArgument
	// KindNodeExists reports an add/rename/copy collision with an existing
	// regular node.
	KindNodeExists
	// KindValueExists reports an add collision with an existing regular
	// value.
	KindValueExists
	// KindValueNotFound reports a read against a dummy or missing value.
	KindValueNotFound
	// KindTypeMismatch reports an access or bind against a value of a
	// different type.
	KindTypeMismatch
	// KindReferenceBroken reports a mutation attempted through an unhealthy
	// reference.
	KindReferenceBroken
	// KindDisposed reports use of a disposed reference or collection
	// enumerator.
	KindDisposed
	// KindNotFound reports a missing file during bootstrap.
	KindNotFound
	// KindSerialization reports a codec read/write failure.
	KindSerialization
	// KindVersionUnsupported reports an archive version the codec cannot
	// read.
	KindVersionUnsupported
	// KindInvalidOperation reports an operation invalid in the caller's
	// current state (e.g. double Init).
	KindInvalidOperation
)

func (k Kind) String() string {
	switch k {
	case KindArgumentNil:
		return "ArgumentNil"
	case KindArgument:
		return "Argument"
	case KindNodeExists:
		return "DataNodeExistsAlready"
	case KindValueExists:
		return "DataValueExistsAlready"
	case KindValueNotFound:
		return "DataValueDoesNotExist"
	case KindTypeMismatch:
		return "DataTypeMismatch"
	case KindReferenceBroken:
		return "DataValueReferenceBroken"
	case KindDisposed:
		return "ObjectDisposed"
	case KindNotFound:
		return "FileNotFound"
	case KindSerialization:
		return "Serialization"
	case KindVersionUnsupported:
		return "VersionNotSupported"
	case KindInvalidOperation:
		return "InvalidOperation"
	default:
		return fmt.Sprintf("UnknownKind(%d)", int(k))
	}
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, errs.New(errs.KindValueNotFound, "")) as a kind probe,
// or more idiomatically errors.As plus a Kind comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}
