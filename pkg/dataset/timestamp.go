package dataset

import (
	"encoding/binary"
	"fmt"
)

// Timestamp is a MeshCoP dataset timestamp: 48 bits of seconds, 15 bits of
// 1/32768 second ticks and the authoritative (U) bit.
type Timestamp struct {
	Seconds       uint64
	Ticks         uint16
	Authoritative bool
}

// MaxTimestampSeconds is the largest representable seconds value.
const MaxTimestampSeconds = 1<<48 - 1

// TimestampFromUint64 decodes the packed 64-bit representation.
func TimestampFromUint64(v uint64) Timestamp {
	return Timestamp{
		Seconds:       v >> 16,
		Ticks:         uint16(v>>1) & 0x7FFF,
		Authoritative: v&1 == 1,
	}
}

// Uint64 returns the packed 64-bit representation.
func (ts Timestamp) Uint64() uint64 {
	v := (ts.Seconds&MaxTimestampSeconds)<<16 | uint64(ts.Ticks&0x7FFF)<<1
	if ts.Authoritative {
		v |= 1
	}
	return v
}

// Compare orders timestamps by seconds then ticks. The U bit does not
// participate. It returns -1, 0 or +1.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.Seconds < other.Seconds:
		return -1
	case ts.Seconds > other.Seconds:
		return 1
	case ts.Ticks < other.Ticks:
		return -1
	case ts.Ticks > other.Ticks:
		return 1
	default:
		return 0
	}
}

// After reports whether ts is strictly newer than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.Compare(other) > 0
}

// Value returns the 8 byte TLV value.
func (ts Timestamp) Value() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], ts.Uint64())
	return b[:]
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%d.%05d", ts.Seconds, ts.Ticks)
}

// DecodeTimestamp parses a timestamp TLV value.
func DecodeTimestamp(v []byte) (Timestamp, error) {
	if len(v) != 8 {
		return Timestamp{}, fmt.Errorf("%w: timestamp length %d", ErrInvalidValue, len(v))
	}
	return TimestampFromUint64(binary.BigEndian.Uint64(v)), nil
}
