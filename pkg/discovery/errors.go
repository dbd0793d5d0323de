package discovery

import "errors"

var (
	ErrClosed         = errors.New("discovery: closed")
	ErrAlreadyStarted = errors.New("discovery: already advertising")
	ErrNotStarted     = errors.New("discovery: not advertising")

	// ErrInvalidTXTRecord reports a _meshcop._udp TXT record that is missing
	// a required key or carries a malformed value.
	ErrInvalidTXTRecord = errors.New("discovery: invalid meshcop TXT record")

	// ErrInvalidNetworkName reports a network name that is empty or longer
	// than 16 bytes.
	ErrInvalidNetworkName = errors.New("discovery: invalid network name")

	// ErrScanInProgress means the scanner already runs a scan.
	ErrScanInProgress = errors.New("discovery: scan in progress")
)
