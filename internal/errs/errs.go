// Package errs defines the error taxonomy shared by every corefuzz component.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error without tying callers to a concrete error type.
type Kind int

const (
	// Empty means an operation found no corpus/solutions entries to act on.
	Empty Kind = iota
	// IllegalState means a scheduler/corpus invariant was violated.
	IllegalState
	// IO covers disk, shared-memory, and network failures.
	IO
	// Serialize covers frame/metadata encoding failures.
	Serialize
	// ShuttingDown is the cooperative exit signal propagated to the launcher.
	ShuttingDown
	// Timeout bubbles up from the executor to a stage.
	Timeout
	// IllegalArgument means bad CLI/config input.
	IllegalArgument
	// KeyNotFound means an absent metadata entry or observer handle.
	KeyNotFound
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case IllegalState:
		return "illegal_state"
	case IO:
		return "io"
	case Serialize:
		return "serialize"
	case ShuttingDown:
		return "shutting_down"
	case Timeout:
		return "timeout"
	case IllegalArgument:
		return "illegal_argument"
	case KeyNotFound:
		return "key_not_found"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error that wraps an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// ErrShuttingDown is the sentinel checked with errors.Is at loop boundaries.
var ErrShuttingDown = New(ShuttingDown, "shutting down")
