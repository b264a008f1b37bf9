package delivery

import "errors"

var (
	// ErrStoreNil is returned when a nil store is provided.
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrResolverNil is returned when a nil recipient resolver is provided.
	ErrResolverNil = errors.New("recipient resolver cannot be nil")

	// ErrSenderNil is returned when a nil channel sender is provided.
	ErrSenderNil = errors.New("channel sender cannot be nil")

	// ErrAlreadyClaimed is returned by a conditional claim that lost the
	// race: the scheduled message is no longer in the scheduled state.
	ErrAlreadyClaimed = errors.New("scheduled message already claimed")

	// ErrScheduleNotFound is returned when a scheduled message does not exist.
	ErrScheduleNotFound = errors.New("scheduled message not found")

	// ErrInvalidTransition is returned for a disallowed status transition.
	ErrInvalidTransition = errors.New("invalid schedule status transition")

	// ErrMessageExists is returned when creating a message with an ID that
	// is already stored; messages are append-only and created exactly once.
	ErrMessageExists = errors.New("message already exists")
)
