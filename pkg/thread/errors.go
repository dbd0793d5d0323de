package thread

import "errors"

var (
	// ErrAlreadyStarted is returned when Start is called on a running node.
	ErrAlreadyStarted = errors.New("thread: node already started")

	// ErrNotStarted is returned when an operation requires a running node.
	ErrNotStarted = errors.New("thread: node not started")

	// ErrAlreadyStopped is returned when Stop is called on a stopped node.
	ErrAlreadyStopped = errors.New("thread: node already stopped")

	// ErrInvalidConfig is returned when NodeConfig validation fails.
	ErrInvalidConfig = errors.New("thread: invalid configuration")

	// ErrNoInterfaces is returned when no interface is configured.
	ErrNoInterfaces = errors.New("thread: at least one interface is required")

	// ErrUnknownInterface is returned for an interface the node does not have.
	ErrUnknownInterface = errors.New("thread: unknown interface")

	// ErrNoRoute is returned when a request has no known destination.
	ErrNoRoute = errors.New("thread: no route to peer")

	// ErrMalformed is returned for link protocol payloads that do not decode.
	ErrMalformed = errors.New("thread: malformed link message")
)
