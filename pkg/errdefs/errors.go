package errdefs

import (
	"errors"
)

var (
	// ErrNotFound is returned when a plugin, extension point or object is not registered
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an identifier or key is already taken
	ErrConflict = errors.New("conflict")

	// ErrInvalidID is returned when an identifier is empty or malformed
	ErrInvalidID = errors.New("invalid identifier")

	// ErrParse is returned when a descriptor archive cannot be parsed
	ErrParse = errors.New("parse failure")

	// ErrResolution is returned when a module, backend or symbol cannot be resolved
	ErrResolution = errors.New("resolution failure")

	// ErrPolicy is returned when an install policy rejects a descriptor
	ErrPolicy = errors.New("rejected by install policy")

	// ErrNoBackend is returned when no loader factory claims a module kind
	ErrNoBackend = errors.New("no backend for module kind")

	// ErrNoSymbol is returned when a module does not export a symbol
	ErrNoSymbol = errors.New("symbol not exported")
)

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidID reports whether err is or wraps ErrInvalidID
func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

// IsParse reports whether err is or wraps ErrParse
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsResolution reports whether err is or wraps ErrResolution
func IsResolution(err error) bool {
	return errors.Is(err, ErrResolution)
}

// IsPolicy reports whether err is or wraps ErrPolicy
func IsPolicy(err error) bool {
	return errors.Is(err, ErrPolicy)
}
