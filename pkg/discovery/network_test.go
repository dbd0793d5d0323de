package discovery

import (
	"testing"

	"github.com/backkem/thread/pkg/link"
)

func TestScanRequest_Matches(t *testing.T) {
	xpan := link.ExtendedPanID{1, 2, 3, 4, 5, 6, 7, 8}
	n := Network{ExtendedPanID: xpan, Channel: 15, SteeringData: []byte{0xff}}

	tests := []struct {
		name string
		req  ScanRequest
		net  Network
		want bool
	}{
		{"zero request", ScanRequest{}, n, true},
		{"channel in mask", ScanRequest{ChannelMask: link.Channel(15).MaskBit()}, n, true},
		{"channel not in mask", ScanRequest{ChannelMask: link.Channel(11).MaskBit()}, n, false},
		{"joiner allowed", ScanRequest{JoinerOnly: true}, n, true},
		{"joiner blocked", ScanRequest{JoinerOnly: true}, Network{ExtendedPanID: xpan, Channel: 15, SteeringData: []byte{0, 0}}, false},
		{"xpan match", ScanRequest{ExtendedPanID: xpan}, n, true},
		{"xpan mismatch", ScanRequest{ExtendedPanID: link.ExtendedPanID{9}}, n, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Matches(tt.net); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortByPreference(t *testing.T) {
	networks := []Network{
		{NetworkName: "unknown", RSSI: RSSIUnknown},
		{NetworkName: "weak", RSSI: -90},
		{NetworkName: "b", RSSI: -40, ExtendedPanID: link.ExtendedPanID{2}},
		{NetworkName: "a", RSSI: -40, ExtendedPanID: link.ExtendedPanID{1}},
	}
	SortByPreference(networks)

	want := []string{"a", "b", "weak", "unknown"}
	for i, n := range networks {
		if n.NetworkName != want[i] {
			t.Errorf("networks[%d] = %q, want %q", i, n.NetworkName, want[i])
		}
	}
}
