package netdata

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/thread/pkg/tlv"
)

// LeaderData identifies a partition and the version of its network data.
type LeaderData struct {
	PartitionID       uint32
	Weighting         uint8
	DataVersion       uint8
	StableDataVersion uint8
	LeaderRouterID    uint8
}

// LeaderDataTLVType is the MLE Leader Data TLV type.
const LeaderDataTLVType tlv.Type = 11

// LeaderDataLen is the encoded length of the Leader Data TLV value.
const LeaderDataLen = 8

// DefaultWeighting is the weighting of a newly formed partition.
const DefaultWeighting = 64

// Value encodes the Leader Data TLV value.
func (ld LeaderData) Value() []byte {
	b := make([]byte, LeaderDataLen)
	binary.BigEndian.PutUint32(b, ld.PartitionID)
	b[4] = ld.Weighting
	b[5] = ld.DataVersion
	b[6] = ld.StableDataVersion
	b[7] = ld.LeaderRouterID
	return b
}

// DecodeLeaderData parses a Leader Data TLV value.
func DecodeLeaderData(v []byte) (LeaderData, error) {
	if len(v) != LeaderDataLen {
		return LeaderData{}, fmt.Errorf("%w: leader data length %d", ErrMalformed, len(v))
	}
	return LeaderData{
		PartitionID:       binary.BigEndian.Uint32(v),
		Weighting:         v[4],
		DataVersion:       v[5],
		StableDataVersion: v[6],
		LeaderRouterID:    v[7],
	}, nil
}

func (ld LeaderData) String() string {
	return fmt.Sprintf("partition %08x weight %d version %d/%d leader %d",
		ld.PartitionID, ld.Weighting, ld.DataVersion, ld.StableDataVersion, ld.LeaderRouterID)
}

// SerialGreater reports whether a is newer than b in 8-bit serial number
// arithmetic (RFC 1982): a != b and (a - b) mod 256 < 128.
func SerialGreater(a, b uint8) bool {
	return a != b && a-b < 128
}
