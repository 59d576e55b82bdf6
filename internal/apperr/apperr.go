// Package apperr carries typed application errors across the gateway and
// store boundaries so handlers can map failures to protocol error events.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the protocol surface.
type Kind int

const (
	// Unauthenticated rejects a connection at handshake time.
	Unauthenticated Kind = iota + 1
	// Forbidden means the actor may not perform the requested mutation.
	Forbidden
	// NotFound means the referenced user or message does not exist.
	NotFound
	// Validation covers empty bodies and malformed payload shapes.
	Validation
	// Persistence wraps failures from the durable store.
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case Persistence:
		return "persistence"
	}
	return "unknown"
}

// Error is a kinded application error, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a kinded error with a user-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause for debugging; the message stays user-visible.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind, defaulting to Persistence for untyped errors so
// that unexpected store failures surface as such rather than crash handlers.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Persistence
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// UserMessage returns the message safe to emit to the client.
func UserMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
