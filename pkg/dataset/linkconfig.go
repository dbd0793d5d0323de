package dataset

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/tlv"
)

// Field limits.
const (
	MaxNetworkNameLen  = 16
	NetworkKeySize     = 16
	PSKcSize           = 16
	MeshLocalPrefixLen = 8
)

// Security policy flag bits.
const (
	PolicyObtainNetworkKey        uint16 = 1 << 15
	PolicyNativeCommissioning     uint16 = 1 << 14
	PolicyRouters                 uint16 = 1 << 13
	PolicyExternalCommissioning   uint16 = 1 << 12
	PolicyCommercialCommissioning uint16 = 1 << 10
	PolicyAutonomousEnrollment    uint16 = 1 << 9
	PolicyNetworkKeyProvisioning  uint16 = 1 << 8
	PolicyNonCCMRouters           uint16 = 1 << 6
)

// SecurityPolicy is the key rotation period and policy flags.
type SecurityPolicy struct {
	RotationHours uint16
	Flags         uint16
}

// DefaultSecurityPolicy is used when forming a network.
var DefaultSecurityPolicy = SecurityPolicy{
	RotationHours: 672,
	Flags: PolicyObtainNetworkKey | PolicyNativeCommissioning | PolicyRouters |
		PolicyExternalCommissioning,
}

// Value returns the four byte TLV value.
func (p SecurityPolicy) Value() []byte {
	var b [4]byte
	binary.BigEndian.PutUint16(b[:2], p.RotationHours)
	binary.BigEndian.PutUint16(b[2:], p.Flags)
	return b[:]
}

// DecodeSecurityPolicy accepts the three byte (single flag byte) and four
// byte forms.
func DecodeSecurityPolicy(v []byte) (SecurityPolicy, error) {
	switch len(v) {
	case 3:
		return SecurityPolicy{
			RotationHours: binary.BigEndian.Uint16(v),
			Flags:         uint16(v[2]) << 8,
		}, nil
	case 4:
		return SecurityPolicy{
			RotationHours: binary.BigEndian.Uint16(v),
			Flags:         binary.BigEndian.Uint16(v[2:]),
		}, nil
	default:
		return SecurityPolicy{}, fmt.Errorf("%w: security policy length %d", ErrInvalidValue, len(v))
	}
}

// ChannelValue encodes a Channel TLV value.
func ChannelValue(page uint8, ch link.Channel) []byte {
	return []byte{page, byte(ch >> 8), byte(ch)}
}

// ChannelMaskValue encodes a page 0 ChannelMask TLV value.
func ChannelMaskValue(mask uint32) []byte {
	b := []byte{0, 4, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[2:], mask)
	return b
}

// DecodeChannelMask returns the page 0 mask of a ChannelMask TLV value.
// Entries for other pages are skipped.
func DecodeChannelMask(v []byte) (uint32, error) {
	c := tlv.NewCursor(v)
	for !c.Done() {
		page, err := c.Uint8()
		if err != nil {
			return 0, fmt.Errorf("%w: channel mask: %v", ErrInvalidValue, err)
		}
		n, err := c.Uint8()
		if err != nil {
			return 0, fmt.Errorf("%w: channel mask: %v", ErrInvalidValue, err)
		}
		mask, err := c.Bytes(int(n))
		if err != nil {
			return 0, fmt.Errorf("%w: channel mask: %v", ErrInvalidValue, err)
		}
		if page == 0 && n == 4 {
			return binary.BigEndian.Uint32(mask), nil
		}
	}
	return 0, nil
}

// LinkConfiguration is the decoded form of an active dataset.
type LinkConfiguration struct {
	NetworkName     string
	ExtendedPanID   link.ExtendedPanID
	MeshLocalPrefix [MeshLocalPrefixLen]byte
	NetworkKey      [NetworkKeySize]byte
	PSKc            [PSKcSize]byte
	PanID           link.PanID
	ChannelPage     uint8
	Channel         link.Channel
	ChannelMask     uint32
	SecurityPolicy  SecurityPolicy
	KeySequence     uint32
	ActiveTimestamp Timestamp
}

// DecodeLinkConfiguration decodes the mandatory TLVs, and the channel mask
// when present, of a dataset. KeySequence is left zero.
func DecodeLinkConfiguration(b []byte) (LinkConfiguration, error) {
	var lc LinkConfiguration
	values := make(map[tlv.Type][]byte)
	err := tlv.Each(b, func(e tlv.TLV) error {
		if _, dup := values[e.Type]; !dup {
			values[e.Type] = e.Value
		}
		return nil
	})
	if err != nil {
		return lc, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, t := range MandatoryTypes {
		if _, ok := values[t]; !ok {
			return lc, fmt.Errorf("%w: %s", ErrMissingMandatory, TypeName(t))
		}
	}

	fixed := func(t tlv.Type, dst []byte) error {
		v := values[t]
		if len(v) != len(dst) {
			return fmt.Errorf("%w: %s length %d", ErrInvalidValue, TypeName(t), len(v))
		}
		copy(dst, v)
		return nil
	}

	ch := values[TypeChannel]
	if len(ch) != 3 {
		return lc, fmt.Errorf("%w: Channel length %d", ErrInvalidValue, len(ch))
	}
	lc.ChannelPage = ch[0]
	lc.Channel = link.Channel(binary.BigEndian.Uint16(ch[1:]))

	pan := values[TypePanID]
	if len(pan) != 2 {
		return lc, fmt.Errorf("%w: PanID length %d", ErrInvalidValue, len(pan))
	}
	lc.PanID = link.PanID(binary.BigEndian.Uint16(pan))

	if err := fixed(TypeExtendedPanID, lc.ExtendedPanID[:]); err != nil {
		return lc, err
	}
	if err := fixed(TypePSKc, lc.PSKc[:]); err != nil {
		return lc, err
	}
	if err := fixed(TypeNetworkKey, lc.NetworkKey[:]); err != nil {
		return lc, err
	}
	if err := fixed(TypeMeshLocalPrefix, lc.MeshLocalPrefix[:]); err != nil {
		return lc, err
	}

	name := values[TypeNetworkName]
	if len(name) > MaxNetworkNameLen || !utf8.Valid(name) {
		return lc, fmt.Errorf("%w: NetworkName", ErrInvalidValue)
	}
	lc.NetworkName = string(name)

	if lc.SecurityPolicy, err = DecodeSecurityPolicy(values[TypeSecurityPolicy]); err != nil {
		return lc, err
	}
	if lc.ActiveTimestamp, err = DecodeTimestamp(values[TypeActiveTimestamp]); err != nil {
		return lc, err
	}
	if v, ok := values[TypeChannelMask]; ok {
		if lc.ChannelMask, err = DecodeChannelMask(v); err != nil {
			return lc, err
		}
	}
	return lc, nil
}

// Encode writes the mandatory TLVs in canonical order, followed by the
// channel mask when set.
func (lc LinkConfiguration) Encode() ([]byte, error) {
	if len(lc.NetworkName) > MaxNetworkNameLen {
		return nil, fmt.Errorf("%w: NetworkName too long", ErrInvalidValue)
	}

	w := tlv.NewWriter(MaxSetSize)
	var pan [2]byte
	binary.BigEndian.PutUint16(pan[:], uint16(lc.PanID))

	puts := []struct {
		t tlv.Type
		v []byte
	}{
		{TypeChannel, ChannelValue(lc.ChannelPage, lc.Channel)},
		{TypePanID, pan[:]},
		{TypeExtendedPanID, lc.ExtendedPanID[:]},
		{TypeNetworkName, []byte(lc.NetworkName)},
		{TypePSKc, lc.PSKc[:]},
		{TypeNetworkKey, lc.NetworkKey[:]},
		{TypeMeshLocalPrefix, lc.MeshLocalPrefix[:]},
		{TypeSecurityPolicy, lc.SecurityPolicy.Value()},
		{TypeActiveTimestamp, lc.ActiveTimestamp.Value()},
	}
	if lc.ChannelMask != 0 {
		puts = append(puts, struct {
			t tlv.Type
			v []byte
		}{TypeChannelMask, ChannelMaskValue(lc.ChannelMask)})
	}
	for _, p := range puts {
		if err := w.Put(p.t, p.v); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// MeshLocalPrefixString formats the mesh-local prefix as an IPv6 /64.
func (lc LinkConfiguration) MeshLocalPrefixString() string {
	p := lc.MeshLocalPrefix
	return fmt.Sprintf("%x:%x:%x:%x::/64",
		binary.BigEndian.Uint16(p[0:]), binary.BigEndian.Uint16(p[2:]),
		binary.BigEndian.Uint16(p[4:]), binary.BigEndian.Uint16(p[6:]))
}
