package bootstrap

import (
	"fmt"

	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/messaging"
)

// RequestKind names the requests the engine sends.
type RequestKind uint8

const (
	// RequestLinkSync resynchronizes with a persisted parent.
	RequestLinkSync RequestKind = iota
	// RequestChildID attaches to a parent found by a scan.
	RequestChildID
	// RequestRouterID asks the leader for a router id.
	RequestRouterID
	// RequestRouterRelease returns a router id to the leader.
	RequestRouterRelease
	// RequestAnnounce broadcasts the active timestamp, channel and PAN id.
	RequestAnnounce
)

func (k RequestKind) String() string {
	switch k {
	case RequestLinkSync:
		return "link-sync"
	case RequestChildID:
		return "child-id"
	case RequestRouterID:
		return "router-id"
	case RequestRouterRelease:
		return "router-release"
	case RequestAnnounce:
		return "announce"
	default:
		return fmt.Sprintf("RequestKind(%d)", k)
	}
}

// Announcement is the content of an announce request.
type Announcement struct {
	// OnChannel is the channel the announce is transmitted on.
	OnChannel link.Channel

	Channel         link.Channel
	Page            uint8
	PanID           link.PanID
	ActiveTimestamp uint64
}

// Request is one message the engine asks the Messenger to deliver.
type Request struct {
	Interface link.InterfaceID
	Kind      RequestKind

	// Peer is the parent for sync and child id requests and the leader for
	// router id requests.
	Peer link.ExtAddress

	// ShortAddress is this node's short address, when known.
	ShortAddress link.ShortAddress

	// Mode is the role being attached as.
	Mode Role

	// Network is the scan result being attached to.
	Network *discovery.Network

	Announcement *Announcement
}

// Messenger delivers engine requests. Final delivery failures are reported
// back through Engine.OnTimeout.
type Messenger interface {
	Send(req Request, timeout messaging.TimeoutParams, retry messaging.RetryPolicy) (messaging.Handle, error)
	Cancel(h messaging.Handle) error
}

// Radio controls the shared IEEE 802.15.4 radio.
type Radio interface {
	Start(channel link.Channel, panID link.PanID, role Role) error
	Stop() error
	SetShortAddress(short link.ShortAddress) error
	ResetNeighbors()
}

// retryFor returns the transmission parameters for a request kind.
func retryFor(kind RequestKind) (messaging.TimeoutParams, messaging.RetryPolicy) {
	timeout := messaging.DefaultTimeoutParams()
	switch kind {
	case RequestLinkSync:
		return timeout, messaging.RetryPolicy{MaxTransmissions: 1, Confirmable: true}
	case RequestAnnounce:
		return timeout, messaging.RetryPolicy{MaxTransmissions: 1}
	default:
		return timeout, messaging.DefaultRetryPolicy()
	}
}
