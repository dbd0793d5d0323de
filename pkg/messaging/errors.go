package messaging

import "errors"

// Errors returned by the messaging package.
var (
	// ErrClosed is returned when sending on a closed Service.
	ErrClosed = errors.New("messaging: service closed")

	// ErrInvalidMessage is returned for datagrams that do not decode.
	ErrInvalidMessage = errors.New("messaging: invalid message")

	// ErrTokenTooLong is returned when a token exceeds MaxTokenLength.
	ErrTokenTooLong = errors.New("messaging: token too long")

	// ErrPending is returned when a message ID is already awaiting an acknowledgement.
	ErrPending = errors.New("messaging: message pending")

	// ErrNoTransport is returned when a Service is configured without a transport.
	ErrNoTransport = errors.New("messaging: no transport configured")

	// ErrUnknownHandle is returned by Cancel for handles that are not outstanding.
	ErrUnknownHandle = errors.New("messaging: unknown handle")
)
