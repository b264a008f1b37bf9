package guestlist

import "errors"

var (
	// ErrDirectoryNil is returned when a nil guest directory is provided.
	ErrDirectoryNil = errors.New("guest directory cannot be nil")

	// ErrInvalidRule is returned for an unknown or incomplete targeting rule.
	ErrInvalidRule = errors.New("invalid targeting rule")
)
