package link

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidChannel is returned for channels outside the 2.4 GHz O-QPSK page 0 range.
var ErrInvalidChannel = errors.New("link: invalid channel")

// Page 0 (2.4 GHz O-QPSK) channel range.
const (
	MinChannel Channel = 11
	MaxChannel Channel = 26
)

// InterfaceID identifies a Thread network interface within one process.
type InterfaceID int8

// String returns a human-readable interface id.
func (id InterfaceID) String() string {
	return fmt.Sprintf("if%d", int8(id))
}

// ExtAddress is an IEEE 802.15.4 extended (EUI-64) address.
type ExtAddress [8]byte

// String returns the address as 16 hex digits.
func (a ExtAddress) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeros (unset).
func (a ExtAddress) IsZero() bool {
	return a == ExtAddress{}
}

// Uint64 returns the big-endian integer value of the address.
func (a ExtAddress) Uint64() uint64 {
	return binary.BigEndian.Uint64(a[:])
}

// ShortAddress is an IEEE 802.15.4 short address. In Thread this is the RLOC16.
type ShortAddress uint16

// Broadcast and invalid short address values.
const (
	ShortAddressBroadcast ShortAddress = 0xFFFF
	ShortAddressInvalid   ShortAddress = 0xFFFE
)

// RouterID returns the router id encoded in the upper six bits of the RLOC16.
func (s ShortAddress) RouterID() uint8 {
	return uint8(s >> 10)
}

// ChildID returns the child id encoded in the lower nine bits of the RLOC16.
func (s ShortAddress) ChildID() uint16 {
	return uint16(s) & 0x1FF
}

// IsRouter reports whether the address is a router RLOC16 (child id zero).
func (s ShortAddress) IsRouter() bool {
	return s.ChildID() == 0
}

// IsValid reports whether the address is usable as a unicast source.
func (s ShortAddress) IsValid() bool {
	return s != ShortAddressBroadcast && s != ShortAddressInvalid
}

// String returns the address as 0xNNNN.
func (s ShortAddress) String() string {
	return fmt.Sprintf("0x%04x", uint16(s))
}

// RouterRLOC16 builds the RLOC16 of a router from its router id.
func RouterRLOC16(routerID uint8) ShortAddress {
	return ShortAddress(uint16(routerID&0x3F) << 10)
}

// PanID is an IEEE 802.15.4 PAN identifier.
type PanID uint16

// PanIDBroadcast matches any PAN.
const PanIDBroadcast PanID = 0xFFFF

// String returns the PAN id as 0xNNNN.
func (p PanID) String() string {
	return fmt.Sprintf("0x%04x", uint16(p))
}

// ExtendedPanID is the 64-bit Thread extended PAN identifier.
type ExtendedPanID [8]byte

// String returns the extended PAN id as 16 hex digits.
func (x ExtendedPanID) String() string {
	return hex.EncodeToString(x[:])
}

// IsZero reports whether the extended PAN id is unset.
func (x ExtendedPanID) IsZero() bool {
	return x == ExtendedPanID{}
}

// ParseExtendedPanID parses 16 hex digits.
func ParseExtendedPanID(s string) (ExtendedPanID, error) {
	var x ExtendedPanID
	b, err := hex.DecodeString(s)
	if err != nil {
		return x, fmt.Errorf("link: extended pan id: %w", err)
	}
	if len(b) != len(x) {
		return x, fmt.Errorf("link: extended pan id must be %d bytes, got %d", len(x), len(b))
	}
	copy(x[:], b)
	return x, nil
}

// Channel is an IEEE 802.15.4 channel number.
type Channel uint16

// Validate checks the channel is within page 0.
func (c Channel) Validate() error {
	if c < MinChannel || c > MaxChannel {
		return ErrInvalidChannel
	}
	return nil
}

// MaskBit returns the bit for this channel in a page 0 channel mask.
// Thread channel masks are MSB-first: channel 0 is bit 31.
func (c Channel) MaskBit() uint32 {
	if c > 31 {
		return 0
	}
	return 1 << (31 - uint32(c))
}

// ChannelsInMask returns the page 0 channels set in mask, ascending.
func ChannelsInMask(mask uint32) []Channel {
	var out []Channel
	for c := MinChannel; c <= MaxChannel; c++ {
		if mask&c.MaskBit() != 0 {
			out = append(out, c)
		}
	}
	return out
}

// DefaultChannelMask covers every page 0 channel.
const DefaultChannelMask uint32 = 0x001FFFE0
