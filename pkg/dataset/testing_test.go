package dataset

import (
	"testing"

	"github.com/backkem/thread/pkg/link"
)

var (
	testNetworkKey  = [NetworkKeySize]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	otherNetworkKey = [NetworkKeySize]byte{0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa, 0x99, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0x00}
)

func testLinkConfiguration() LinkConfiguration {
	return LinkConfiguration{
		NetworkName:     "OpenThread",
		ExtendedPanID:   link.ExtendedPanID{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe},
		MeshLocalPrefix: [8]byte{0xfd, 0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0x00},
		NetworkKey:      testNetworkKey,
		PSKc:            [16]byte{0xc2, 0x3a, 0x76, 0xe9, 0x8f, 0x1a, 0x64, 0x83, 0x63, 0x9b, 0x1a, 0xc1, 0x27, 0x1e, 0x2e, 0x27},
		PanID:           0xface,
		Channel:         15,
		ChannelMask:     link.DefaultChannelMask,
		SecurityPolicy:  DefaultSecurityPolicy,
		ActiveTimestamp: Timestamp{Seconds: 10},
	}
}

func mustEncode(t *testing.T, lc LinkConfiguration) []byte {
	t.Helper()
	b, err := lc.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return b
}

// pendingTLVs builds a pending dataset from lc with the given pending timestamp.
func pendingTLVs(t *testing.T, lc LinkConfiguration, pendingSeconds uint64) []byte {
	t.Helper()
	set, err := NewConfigurationSet(mustEncode(t, lc))
	if err != nil {
		t.Fatalf("NewConfigurationSet() error = %v", err)
	}
	if err := set.Set(TypePendingTimestamp, Timestamp{Seconds: pendingSeconds}.Value()); err != nil {
		t.Fatalf("Set(PendingTimestamp) error = %v", err)
	}
	return set.Bytes()
}
