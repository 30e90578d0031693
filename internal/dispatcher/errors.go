package dispatcher

import "errors"

var (
	// ErrValidation marks submissions rejected before publish: unknown
	// command or malformed parameters.
	ErrValidation = errors.New("command validation failed")
	// ErrNotAuthorized marks submissions rejected by the authlist.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound marks status queries for command ids that were never
	// issued or whose grace period has expired.
	ErrNotFound = errors.New("command not found")
)
