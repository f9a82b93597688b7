package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when no run was committed yet or the requested
	// version does not exist.
	ErrNotFound = errors.New("manifest not found")
)
