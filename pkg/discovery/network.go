package discovery

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/backkem/thread/pkg/link"
)

// RSSIUnknown marks a network whose signal strength was not measured.
const RSSIUnknown int8 = 127

// Network is one discovered Thread network.
type Network struct {
	PanID         link.PanID
	ExtendedPanID link.ExtendedPanID
	NetworkName   string
	Channel       link.Channel
	RSSI          int8

	// SteeringData is the commissioner's joiner filter. Empty means none.
	SteeringData        []byte
	JoinerUDPPort       uint16
	CommissionerUDPPort uint16
	Version             uint8

	// ExtAddress is the extended address of the responding node.
	ExtAddress link.ExtAddress

	// Agent is where the advertising border agent can be reached, if known.
	Agent net.Addr
}

func (n Network) String() string {
	return fmt.Sprintf("%q xpan=%s pan=%s ch=%d rssi=%d", n.NetworkName, n.ExtendedPanID, n.PanID, n.Channel, n.RSSI)
}

// AllowsJoiner reports whether steering data admits any joiner.
func (n Network) AllowsJoiner() bool {
	for _, b := range n.SteeringData {
		if b != 0 {
			return true
		}
	}
	return false
}

// ScanRequest describes a discovery scan.
type ScanRequest struct {
	// ChannelMask selects page 0 channels. Zero scans all channels.
	ChannelMask uint32

	// Duration bounds the scan.
	Duration time.Duration

	// JoinerOnly restricts results to networks whose steering data admits joiners.
	JoinerOnly bool

	// ExtendedPanID, if set, restricts results to one network.
	ExtendedPanID link.ExtendedPanID
}

// Matches reports whether n satisfies the request filters.
func (r ScanRequest) Matches(n Network) bool {
	mask := r.ChannelMask
	if mask == 0 {
		mask = link.DefaultChannelMask
	}
	if mask&n.Channel.MaskBit() == 0 {
		return false
	}
	if r.JoinerOnly && !n.AllowsJoiner() {
		return false
	}
	if !r.ExtendedPanID.IsZero() && r.ExtendedPanID != n.ExtendedPanID {
		return false
	}
	return true
}

// ScanCallback receives the results of one scan. It is called exactly once
// per accepted scan, with an empty slice when nothing was found or the scan
// failed.
type ScanCallback func(networks []Network, err error)

// Scanner runs discovery scans.
type Scanner interface {
	// Scan starts a scan and returns immediately. The callback runs on
	// another goroutine.
	Scan(ctx context.Context, req ScanRequest, cb ScanCallback) error
}

// SortByPreference orders networks strongest first, breaking ties by
// extended PAN id so results are stable.
func SortByPreference(networks []Network) {
	slices.SortStableFunc(networks, func(a, b Network) int {
		ar, br := a.RSSI, b.RSSI
		if ar == RSSIUnknown {
			ar = -128
		}
		if br == RSSIUnknown {
			br = -128
		}
		if c := cmp.Compare(br, ar); c != 0 {
			return c
		}
		return slices.Compare(a.ExtendedPanID[:], b.ExtendedPanID[:])
	})
}
