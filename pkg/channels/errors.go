package channels

import "errors"

var (
	// ErrInvalidPhone is returned when a phone number cannot be normalized
	// to E.164.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrEmptyAddress is returned for an outbound with no address.
	ErrEmptyAddress = errors.New("empty delivery address")

	// ErrProviderRejected is returned when the provider refused the message.
	ErrProviderRejected = errors.New("provider rejected message")
)
