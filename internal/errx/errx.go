// Package errx provides the error kinds of the link lifecycle.
// Callers branch on Kind rather than on concrete error types; the wrapped
// cause is always preserved for errors.Is and errors.As.

package errx

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Unknown Kind = iota
	NotAuthorized
	NotFound
	NotOwner
	Expired
	OutOfClicks
	Invalid
	GenerationExhausted
	RepositoryFailure
	NotificationFailure
	ResolutionFailure

	// Store-level kinds. The service re-wraps these as RepositoryFailure
	// or NotificationFailure before they reach a caller.
	Conflict
	Unavailable
	Internal
)

type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case NotAuthorized:
		return "NotAuthorized"
	case NotFound:
		return "NotFound"
	case NotOwner:
		return "NotOwner"
	case Expired:
		return "Expired"
	case OutOfClicks:
		return "OutOfClicks"
	case Invalid:
		return "Invalid"
	case GenerationExhausted:
		return "GenerationExhausted"
	case RepositoryFailure:
		return "RepositoryFailure"
	case NotificationFailure:
		return "NotificationFailure"
	case ResolutionFailure:
		return "ResolutionFailure"
	case Conflict:
		return "Conflict"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Is reports whether any *Error in err's chain carries kind.
// Use it when a store kind (NotFound, Conflict) must be detected
// underneath a service-level wrapper.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
