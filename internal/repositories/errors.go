package repositories

import (
	"errors"
	"fmt"
)

type errorKind int

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error is the RepositoryError implementation shared by the SQL and in-memory backends.
type Error struct {
	op   string
	err  error
	kind errorKind
}

var _ RepositoryError = (*Error)(nil)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string, err error) *Error {
	return newError(op, err, kindNotFound, "not found")
}

// NewConflictError reports a write that lost against a concurrent writer or violated a constraint.
func NewConflictError(op string, err error) *Error {
	return newError(op, err, kindConflict, "conflict")
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *Error {
	return newError(op, err, kindUnavailable, "unavailable")
}

// NewError wraps an uncategorised backend failure.
func NewError(op string, err error) *Error {
	return newError(op, err, kindUnknown, "failed")
}

func newError(op string, err error, kind errorKind, fallback string) *Error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &Error{op: op, err: err, kind: kind}
}

// IsNotFound reports whether err carries RepositoryError not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
