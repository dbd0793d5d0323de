package netdata

import "errors"

var (
	// ErrMalformed is returned by Save when a length field overruns its buffer.
	ErrMalformed = errors.New("netdata: malformed network data")

	// ErrNotReady is returned by Save before the interface is attach-ready.
	ErrNotReady = errors.New("netdata: not attach-ready")

	// ErrNoContext is returned when all context IDs are in use.
	ErrNoContext = errors.New("netdata: no free context id")
)
