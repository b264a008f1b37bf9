package realtime

import "errors"

var (
	// ErrTransportNil is returned when a nil transport is provided.
	ErrTransportNil = errors.New("transport cannot be nil")

	// ErrManagerClosed is returned for operations on a closed manager.
	ErrManagerClosed = errors.New("subscription manager is closed")

	// ErrHandlerNil is returned when a subscription has no data handler.
	ErrHandlerNil = errors.New("subscription data handler cannot be nil")

	// ErrRetryExhausted is surfaced to a subscription's error callback
	// when the retry ceiling is reached; auto-retry stops until an
	// explicit re-subscribe.
	ErrRetryExhausted = errors.New("subscription retry ceiling exceeded")

	// ErrJoinTimeout marks a channel join that exceeded the adaptive
	// timeout.
	ErrJoinTimeout = errors.New("channel join timed out")

	// ErrCooldownActive is returned when a global reconnect is suppressed
	// by the circuit breaker cooldown.
	ErrCooldownActive = errors.New("reconnect suppressed by cooldown")

	// ErrChannelClosed is reported by a transport channel torn down
	// underneath its subscription.
	ErrChannelClosed = errors.New("transport channel closed")
)
