package feed

import "errors"

var (
	// ErrReaderNil is returned when a nil reader is provided.
	ErrReaderNil = errors.New("feed reader cannot be nil")

	// ErrEventIDEmpty is returned when a feed is created without an event.
	ErrEventIDEmpty = errors.New("event ID cannot be empty")

	// ErrMissingID marks a row image with no id field.
	ErrMissingID = errors.New("row image has no id")

	// ErrBadCursor marks a pagination token that cannot be decoded.
	ErrBadCursor = errors.New("malformed pagination cursor")

	// ErrNotLoaded is returned when pagination is requested before the
	// initial load.
	ErrNotLoaded = errors.New("feed has not been loaded")
)
