// Package apperr defines the error kinds shared by the synchronization core.
//
// Validation and Unauthorized errors are raised locally and never reach the
// network. Remote errors wrap whatever a backend returned, keeping its
// message. BestEffort errors are only ever reported, never returned to a
// caller that is waiting on the operation.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by where it came from
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthorized
	KindRemote
	KindBestEffort
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindRemote:
		return "remote"
	case KindBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by core components
type Error struct {
	Kind  Kind
	Op    string // operation that failed, e.g. "directory.create"
	Field string // offending input for validation errors
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindValidation && e.Field != "":
		return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Msg)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a failed local input rule
func Validation(op, field, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Msg: msg}
}

// Unauthorized reports an operation attempted without an active identity
func Unauthorized(op string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Msg: "no active identity"}
}

// Remote wraps a collaborator failure. A nil err yields nil, and errors that
// are already Remote or Unauthorized pass through unchanged.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok && (e.Kind == KindRemote || e.Kind == KindUnauthorized) {
		return err
	}
	return &Error{Kind: KindRemote, Op: op, Err: errors.WithStack(err)}
}

// Remotef builds a Remote error from an application-level failure message
func Remotef(op, format string, args ...interface{}) error {
	return &Error{Kind: KindRemote, Op: op, Err: errors.Errorf(format, args...)}
}

// BestEffort marks a background failure that must not fail the caller
func BestEffort(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindBestEffort, Op: op, Err: errors.WithStack(err)}
}

// As extracts the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
func IsRemote(err error) bool       { return KindOf(err) == KindRemote }
func IsBestEffort(err error) bool   { return KindOf(err) == KindBestEffort }

// Cause returns the innermost error, skipping the apperr wrapper
func Cause(err error) error {
	if e, ok := As(err); ok && e.Err != nil {
		return errors.Cause(e.Err)
	}
	return err
}
