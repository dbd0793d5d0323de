package transport

import "errors"

var (
	ErrClosed         = errors.New("transport: link closed")
	ErrAlreadyStarted = errors.New("transport: link already started")

	// ErrNoHandler means the link was configured without a MessageHandler.
	ErrNoHandler = errors.New("transport: message handler required")

	// ErrInvalidAddress rejects nil destinations and non-multicast groups.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrMessageTooLarge means a datagram exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("transport: datagram exceeds link MTU")
)
