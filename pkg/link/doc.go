// Package link defines the link-layer identifiers shared across the Thread
// control plane: interface ids, IEEE 802.15.4 addresses, PAN identifiers and
// channels.
//
// These are plain value types with no behavior beyond formatting and
// validation, so every other package can depend on them without pulling in
// radio or MAC machinery.
package link
