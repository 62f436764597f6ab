// Package errors defines the engine error taxonomy. Handlers and the
// scheduler branch on these kinds to decide what is reported to callers,
// what is logged and skipped, and what is retried on a later tick.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindValidation marks a malformed submission. Nothing was persisted.
	KindValidation Kind = iota
	// KindNotFound marks a lookup or cancel referencing an unknown or
	// not-owned order.
	KindNotFound
	// KindInvalidTransition marks an operation against an order whose
	// status no longer permits it (cancel of a terminal order, or a
	// claimed order already mutated by a racing worker).
	KindInvalidTransition
	// KindTransientStore marks a ledger store failure. Safe to retry on
	// the next scheduler tick; never surfaced to end users.
	KindTransientStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindTransientStore:
		return "transient_store"
	default:
		return "unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: ...}) works
// with the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrTransientStore    = &Error{Kind: KindTransientStore}
)

// Validation creates a validation error.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition creates an invalid-transition error.
func InvalidTransition(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

// TransientStore wraps a ledger store failure.
func TransientStore(err error, msg string) error {
	return &Error{Kind: KindTransientStore, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or -1 when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Kind(-1)
}
