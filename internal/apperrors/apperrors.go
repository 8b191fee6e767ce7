// Package apperrors defines the error taxonomy shared by IDX, SIM, CR and
// CAG. Every failure the core surfaces maps to exactly one Kind.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a closed set of failure categories, not a type hierarchy.
type Kind string

const (
	KindInputInvalid            Kind = "INPUT_INVALID"
	KindNotFound                Kind = "NOT_FOUND"
	KindNotIndexed              Kind = "NOT_INDEXED"
	KindStale                   Kind = "STALE"
	KindCollaboratorUnavailable Kind = "COLLABORATOR_UNAVAILABLE"
	KindOverloaded              Kind = "OVERLOADED"
	KindTimeout                 Kind = "TIMEOUT"
	KindMalformedOutput         Kind = "MALFORMED_OUTPUT"
	KindCancelled               Kind = "CANCELLED"
	KindInternal                Kind = "INTERNAL"
)

// ExitCodes mirrors the CLI exit code contract of spec §6.
var ExitCodes = map[Kind]int{
	KindInputInvalid:            2,
	KindCollaboratorUnavailable: 3,
	KindMalformedOutput:         4,
	KindOverloaded:              5,
}

// DefaultMessages gives a human-readable default per kind, matching the
// teacher's DefaultErrorMessages table convention.
var DefaultMessages = map[Kind]string{
	KindInputInvalid:            "the request contains invalid input",
	KindNotFound:                "the referenced item does not exist",
	KindNotIndexed:              "the item has no current embedding",
	KindStale:                   "derived data does not match the current provenance",
	KindCollaboratorUnavailable: "an external collaborator is unreachable",
	KindOverloaded:              "the generator queue is full",
	KindTimeout:                 "the operation exceeded its configured timeout",
	KindMalformedOutput:         "generator output could not be parsed",
	KindCancelled:               "the request was cancelled",
	KindInternal:                "an internal invariant was violated",
}

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// RawOutput preserves undecodable generator output for MalformedOutput,
	// per spec §4.4 stage 6 / §7.
	RawOutput string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error, defaulting Message from DefaultMessages when empty.
func New(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = DefaultMessages[kind]
	}
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a Kind to an underlying collaborator/library error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Kind, unwrapping wrapped errors.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// ExitCode maps an error to the CLI exit code contract; unmapped kinds (and
// success) use 0 except NotFound/NotIndexed/Stale/Timeout/Cancelled/Internal
// which the CLI surface treats as generic failures (exit 1) since spec §6
// only enumerates 2,3,4,5 explicitly.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if !errors.As(err, &e) {
		return 1
	}
	if code, ok := ExitCodes[e.Kind]; ok {
		return code
	}
	return 1
}
