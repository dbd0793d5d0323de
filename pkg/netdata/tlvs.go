package netdata

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/tlv"
)

// MaxSize is the largest network data blob.
const MaxSize = 254

// TLVType is a network data TLV type. On the wire the type occupies the upper
// seven bits of the type byte and the low bit is the stable flag.
type TLVType uint8

const (
	TypeHasRoute          TLVType = 0
	TypePrefix            TLVType = 1
	TypeBorderRouter      TLVType = 2
	TypeContext           TLVType = 3
	TypeCommissioningData TLVType = 4
	TypeService           TLVType = 5
	TypeServer            TLVType = 6
)

func (t TLVType) String() string {
	switch t {
	case TypeHasRoute:
		return "HasRoute"
	case TypePrefix:
		return "Prefix"
	case TypeBorderRouter:
		return "BorderRouter"
	case TypeContext:
		return "Context"
	case TypeCommissioningData:
		return "CommissioningData"
	case TypeService:
		return "Service"
	case TypeServer:
		return "Server"
	default:
		return fmt.Sprintf("TLVType(%d)", uint8(t))
	}
}

func splitType(t tlv.Type) (TLVType, bool) {
	return TLVType(t >> 1), t&1 == 1
}

func wireType(t TLVType, stable bool) tlv.Type {
	w := tlv.Type(t << 1)
	if stable {
		w |= 1
	}
	return w
}

// Border router flags.
const (
	FlagPreferred    uint16 = 1 << 13
	FlagSLAAC        uint16 = 1 << 12
	FlagDHCP         uint16 = 1 << 11
	FlagConfigure    uint16 = 1 << 10
	FlagDefaultRoute uint16 = 1 << 9
	FlagOnMesh       uint16 = 1 << 8
	FlagNDDNS        uint16 = 1 << 7
	FlagDomainPrefix uint16 = 1 << 6
)

// Route preferences.
const (
	PreferenceLow    int8 = -1
	PreferenceMedium int8 = 0
	PreferenceHigh   int8 = 1
)

func decodePreference(bits uint8) int8 {
	switch bits & 0x3 {
	case 1:
		return PreferenceHigh
	case 3:
		return PreferenceLow
	default:
		return PreferenceMedium
	}
}

func encodePreference(p int8) uint8 {
	switch {
	case p > 0:
		return 1
	case p < 0:
		return 3
	default:
		return 0
	}
}

// BorderRouter is one entry of a Border Router sub-TLV.
type BorderRouter struct {
	RLOC16 link.ShortAddress
	Flags  uint16
	Stable bool
}

// Preference returns the signed two-bit preference.
func (b BorderRouter) Preference() int8 {
	return decodePreference(uint8(b.Flags >> 14))
}

// Has reports whether flag is set.
func (b BorderRouter) Has(flag uint16) bool {
	return b.Flags&flag != 0
}

// ExternalRoute is one entry of a Has Route sub-TLV.
type ExternalRoute struct {
	RLOC16     link.ShortAddress
	Preference int8
	NAT64      bool
	Stable     bool
}

// ContextInfo is a 6LoWPAN compression context.
type ContextInfo struct {
	ID       uint8
	Prefix   netip.Prefix
	Compress bool
	Stable   bool

	// Local is set for contexts this node allocated as leader.
	Local bool
}

// Prefix describes a Prefix TLV for encoding.
type Prefix struct {
	DomainID      uint8
	Prefix        netip.Prefix
	Stable        bool
	Context       *ContextInfo
	BorderRouters []BorderRouter
	Routes        []ExternalRoute
}

// Service describes a Service TLV for encoding.
type Service struct {
	ServiceID   uint8
	Enterprise  uint32
	ServiceData []byte
	Stable      bool
	Servers     []Server
}

// Server is one Server sub-TLV.
type Server struct {
	ServiceID   uint8
	Enterprise  uint32
	ServiceData []byte
	RLOC16      link.ShortAddress
	ServerData  []byte
	Stable      bool
}

// ThreadEnterpriseNumber is the enterprise number of Thread-defined services.
const ThreadEnterpriseNumber = 44970

// AppendPrefix encodes a Prefix TLV onto dst.
func AppendPrefix(dst []byte, p Prefix) []byte {
	bits := p.Prefix.Bits()
	raw := p.Prefix.Addr().As16()
	v := []byte{p.DomainID, byte(bits)}
	v = append(v, raw[:(bits+7)/8]...)

	if p.Context != nil {
		flags := p.Context.ID & 0x0F
		if p.Context.Compress {
			flags |= 0x10
		}
		v = tlv.Append(v, wireType(TypeContext, p.Context.Stable), []byte{flags, byte(p.Context.Prefix.Bits())})
	}
	for _, stable := range []bool{true, false} {
		var brs, routes []byte
		for _, br := range p.BorderRouters {
			if br.Stable == stable {
				brs = binary.BigEndian.AppendUint16(brs, uint16(br.RLOC16))
				brs = binary.BigEndian.AppendUint16(brs, br.Flags)
			}
		}
		for _, r := range p.Routes {
			if r.Stable == stable {
				flags := encodePreference(r.Preference) << 6
				if r.NAT64 {
					flags |= 0x20
				}
				routes = binary.BigEndian.AppendUint16(routes, uint16(r.RLOC16))
				routes = append(routes, flags)
			}
		}
		if len(brs) > 0 {
			v = tlv.Append(v, wireType(TypeBorderRouter, stable), brs)
		}
		if len(routes) > 0 {
			v = tlv.Append(v, wireType(TypeHasRoute, stable), routes)
		}
	}
	return tlv.Append(dst, wireType(TypePrefix, p.Stable), v)
}

// AppendService encodes a Service TLV onto dst.
func AppendService(dst []byte, s Service) []byte {
	head := s.ServiceID & 0x0F
	var v []byte
	if s.Enterprise == ThreadEnterpriseNumber {
		v = append(v, head|0x80)
	} else {
		v = append(v, head)
		v = binary.BigEndian.AppendUint32(v, s.Enterprise)
	}
	v = append(v, byte(len(s.ServiceData)))
	v = append(v, s.ServiceData...)
	for _, srv := range s.Servers {
		sv := binary.BigEndian.AppendUint16(nil, uint16(srv.RLOC16))
		sv = append(sv, srv.ServerData...)
		v = tlv.Append(v, wireType(TypeServer, srv.Stable), sv)
	}
	return tlv.Append(dst, wireType(TypeService, s.Stable), v)
}

// AppendCommissioningData encodes a Commissioning Data TLV holding MeshCoP
// TLVs onto dst.
func AppendCommissioningData(dst []byte, meshcop []byte) []byte {
	return tlv.Append(dst, wireType(TypeCommissioningData, false), meshcop)
}

type prefixHeader struct {
	domainID uint8
	prefix   netip.Prefix
}

func splitPrefix(v []byte) (prefixHeader, []byte, error) {
	c := tlv.NewCursor(v)
	domain, err := c.Uint8()
	if err != nil {
		return prefixHeader{}, nil, err
	}
	bits, err := c.Uint8()
	if err != nil {
		return prefixHeader{}, nil, err
	}
	if bits > 128 {
		return prefixHeader{}, nil, fmt.Errorf("prefix length %d", bits)
	}
	raw, err := c.Bytes((int(bits) + 7) / 8)
	if err != nil {
		return prefixHeader{}, nil, err
	}
	var a [16]byte
	copy(a[:], raw)
	pfx := netip.PrefixFrom(netip.AddrFrom16(a), int(bits)).Masked()
	return prefixHeader{domainID: domain, prefix: pfx}, c.Rest(), nil
}

type serviceHeader struct {
	id         uint8
	enterprise uint32
	data       []byte
}

func splitService(v []byte) (serviceHeader, []byte, error) {
	c := tlv.NewCursor(v)
	head, err := c.Uint8()
	if err != nil {
		return serviceHeader{}, nil, err
	}
	h := serviceHeader{id: head & 0x0F, enterprise: ThreadEnterpriseNumber}
	if head&0x80 == 0 {
		if h.enterprise, err = c.Uint32(); err != nil {
			return serviceHeader{}, nil, err
		}
	}
	n, err := c.Uint8()
	if err != nil {
		return serviceHeader{}, nil, err
	}
	if h.data, err = c.Bytes(int(n)); err != nil {
		return serviceHeader{}, nil, err
	}
	return h, c.Rest(), nil
}

// validateFraming walks b with plain one-byte lengths.
func validateFraming(b []byte) error {
	c := tlv.NewCursor(b)
	for {
		_, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// validate is the structural pre-check run by Save: every nested length
// field must fit its enclosing buffer.
func validate(b []byte) error {
	if len(b) > MaxSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	c := tlv.NewCursor(b)
	for {
		e, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		t, _ := splitType(e.Type)
		var sub []byte
		switch t {
		case TypePrefix:
			_, sub, err = splitPrefix(e.Value)
		case TypeService:
			_, sub, err = splitService(e.Value)
		case TypeCommissioningData:
			sub = e.Value
		default:
			continue
		}
		if err == nil {
			err = validateFraming(sub)
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
		}
	}
}
