package management

import "errors"

var (
	// ErrRejected is returned by Client when the peer answers with State Reject.
	ErrRejected = errors.New("management: request rejected")

	// ErrMissingTLV is returned when a required TLV is absent.
	ErrMissingTLV = errors.New("management: required TLV missing")

	// ErrBadResponse is returned for a response with an error code or broken payload.
	ErrBadResponse = errors.New("management: bad response")

	// ErrNoDataset is returned when the server has no dataset instance.
	ErrNoDataset = errors.New("management: no dataset")
)
