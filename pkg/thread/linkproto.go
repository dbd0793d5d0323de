package thread

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/netdata"
	"github.com/backkem/thread/pkg/tlv"
)

// Link protocol resources. Requests are POSTs on the messaging service.
const (
	PathLinkSync      = "m/lr"
	PathChildID       = "m/ci"
	PathRouterID      = "a/as"
	PathRouterRelease = "a/ar"
	PathAnnounce      = "m/an"
	PathLeaderData    = "m/ld"
)

// Link protocol TLV types.
const (
	TypeSource          tlv.Type = 0
	TypeMode            tlv.Type = 1
	TypeShortAddress    tlv.Type = 2
	TypeParentShort     tlv.Type = 3
	TypeRouterID        tlv.Type = 4
	TypeRouterCount     tlv.Type = 5
	TypeChannel         tlv.Type = 6
	TypePanID           tlv.Type = 7
	TypeActiveTimestamp tlv.Type = 8
	TypeNetworkData     tlv.Type = 9
	TypeActiveDataset   tlv.Type = 10
	TypeLeaderData               = netdata.LeaderDataTLVType
)

// LinkRequest is the payload of sync, child id, router id and router release
// requests.
type LinkRequest struct {
	Source       link.ExtAddress
	Mode         bootstrap.Role
	ShortAddress link.ShortAddress
}

// Encode writes the request TLVs. An invalid short address is omitted.
func (r LinkRequest) Encode() []byte {
	b := tlv.Append(nil, TypeSource, r.Source[:])
	b = tlv.Append(b, TypeMode, []byte{byte(r.Mode)})
	if r.ShortAddress.IsValid() {
		b = tlv.Append(b, TypeShortAddress, u16(uint16(r.ShortAddress)))
	}
	return b
}

// DecodeLinkRequest decodes a LinkRequest. Source is required.
func DecodeLinkRequest(b []byte) (LinkRequest, error) {
	r := LinkRequest{ShortAddress: link.ShortAddressInvalid}
	if err := tlv.Validate(b); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ok bool
	if r.Source, ok = findExt(b, TypeSource); !ok {
		return r, fmt.Errorf("%w: missing source", ErrMalformed)
	}
	if m, ok := findU8(b, TypeMode); ok {
		r.Mode = bootstrap.Role(m)
	}
	if s, ok := findU16(b, TypeShortAddress); ok {
		r.ShortAddress = link.ShortAddress(s)
	}
	return r, nil
}

// ChildIDResponse is a parent's answer to a child id request.
type ChildIDResponse struct {
	Parent        link.ExtAddress
	ParentShort   link.ShortAddress
	ShortAddress  link.ShortAddress
	LeaderData    netdata.LeaderData
	RouterCount   uint8
	NetworkData   []byte
	ActiveDataset []byte
}

// Encode writes the response TLVs.
func (r ChildIDResponse) Encode() []byte {
	b := tlv.Append(nil, TypeSource, r.Parent[:])
	b = tlv.Append(b, TypeParentShort, u16(uint16(r.ParentShort)))
	b = tlv.Append(b, TypeShortAddress, u16(uint16(r.ShortAddress)))
	b = tlv.Append(b, TypeLeaderData, r.LeaderData.Value())
	b = tlv.Append(b, TypeRouterCount, []byte{r.RouterCount})
	if r.NetworkData != nil {
		b = tlv.Append(b, TypeNetworkData, r.NetworkData)
	}
	if len(r.ActiveDataset) > 0 {
		b = tlv.Append(b, TypeActiveDataset, r.ActiveDataset)
	}
	return b
}

// DecodeChildIDResponse decodes a ChildIDResponse. Everything but the network
// data and the active dataset is required.
func DecodeChildIDResponse(b []byte) (ChildIDResponse, error) {
	var r ChildIDResponse
	if err := tlv.Validate(b); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ok bool
	if r.Parent, ok = findExt(b, TypeSource); !ok {
		return r, fmt.Errorf("%w: missing parent", ErrMalformed)
	}
	ps, ok1 := findU16(b, TypeParentShort)
	s, ok2 := findU16(b, TypeShortAddress)
	if !ok1 || !ok2 {
		return r, fmt.Errorf("%w: missing short address", ErrMalformed)
	}
	r.ParentShort, r.ShortAddress = link.ShortAddress(ps), link.ShortAddress(s)

	v, ok := tlv.Find(b, TypeLeaderData)
	if !ok {
		return r, fmt.Errorf("%w: missing leader data", ErrMalformed)
	}
	ld, err := netdata.DecodeLeaderData(v)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r.LeaderData = ld
	if r.RouterCount, ok = findU8(b, TypeRouterCount); !ok {
		return r, fmt.Errorf("%w: missing router count", ErrMalformed)
	}
	if v, ok := tlv.Find(b, TypeNetworkData); ok {
		r.NetworkData = append([]byte{}, v...)
	}
	if v, ok := tlv.Find(b, TypeActiveDataset); ok {
		r.ActiveDataset = append([]byte(nil), v...)
	}
	return r, nil
}

// Event converts the response into the engine's attach event.
func (r ChildIDResponse) Event() bootstrap.AttachReady {
	return bootstrap.AttachReady{
		Parent:        r.Parent,
		ParentShort:   r.ParentShort,
		ShortAddress:  r.ShortAddress,
		LeaderData:    r.LeaderData,
		RouterCount:   r.RouterCount,
		NetworkData:   r.NetworkData,
		ActiveDataset: r.ActiveDataset,
	}
}

// EncodeRouterIDResponse answers a router id request. netdata.InvalidRouterID
// refuses it.
func EncodeRouterIDResponse(routerID uint8) []byte {
	return tlv.Append(nil, TypeRouterID, []byte{routerID})
}

// DecodeRouterIDResponse returns the granted router id, or false when the
// request was refused.
func DecodeRouterIDResponse(b []byte) (uint8, bool) {
	id, ok := findU8(b, TypeRouterID)
	if !ok || id >= netdata.InvalidRouterID {
		return netdata.InvalidRouterID, false
	}
	return id, true
}

// Announce tells nodes on another channel where the network moved.
type Announce struct {
	Source          link.ExtAddress
	Channel         link.Channel
	Page            uint8
	PanID           link.PanID
	ActiveTimestamp uint64
}

// Encode writes the announce TLVs.
func (a Announce) Encode() []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], a.ActiveTimestamp)
	ch := []byte{a.Page, 0, 0}
	binary.BigEndian.PutUint16(ch[1:], uint16(a.Channel))

	b := tlv.Append(nil, TypeSource, a.Source[:])
	b = tlv.Append(b, TypeChannel, ch)
	b = tlv.Append(b, TypePanID, u16(uint16(a.PanID)))
	return tlv.Append(b, TypeActiveTimestamp, ts[:])
}

// DecodeAnnounce decodes an Announce. Every field is required.
func DecodeAnnounce(b []byte) (Announce, error) {
	var a Announce
	if err := tlv.Validate(b); err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	src, ok1 := findExt(b, TypeSource)
	ch, ok2 := tlv.Find(b, TypeChannel)
	pan, ok3 := findU16(b, TypePanID)
	ts, ok4 := tlv.Find(b, TypeActiveTimestamp)
	if !ok1 || !ok2 || !ok3 || !ok4 || len(ch) != 3 || len(ts) != 8 {
		return a, fmt.Errorf("%w: incomplete announce", ErrMalformed)
	}
	a.Source = src
	a.Page = ch[0]
	a.Channel = link.Channel(binary.BigEndian.Uint16(ch[1:]))
	a.PanID = link.PanID(pan)
	a.ActiveTimestamp = binary.BigEndian.Uint64(ts)
	return a, nil
}

// LeaderAdvertisement carries a neighbor's partition.
type LeaderAdvertisement struct {
	Source      link.ExtAddress
	LeaderData  netdata.LeaderData
	RouterCount uint8
}

// Encode writes the advertisement TLVs.
func (l LeaderAdvertisement) Encode() []byte {
	b := tlv.Append(nil, TypeSource, l.Source[:])
	b = tlv.Append(b, TypeLeaderData, l.LeaderData.Value())
	return tlv.Append(b, TypeRouterCount, []byte{l.RouterCount})
}

// DecodeLeaderAdvertisement decodes a LeaderAdvertisement.
func DecodeLeaderAdvertisement(b []byte) (LeaderAdvertisement, error) {
	var l LeaderAdvertisement
	if err := tlv.Validate(b); err != nil {
		return l, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var ok bool
	if l.Source, ok = findExt(b, TypeSource); !ok {
		return l, fmt.Errorf("%w: missing source", ErrMalformed)
	}
	v, ok := tlv.Find(b, TypeLeaderData)
	if !ok {
		return l, fmt.Errorf("%w: missing leader data", ErrMalformed)
	}
	ld, err := netdata.DecodeLeaderData(v)
	if err != nil {
		return l, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	l.LeaderData = ld
	if l.RouterCount, ok = findU8(b, TypeRouterCount); !ok {
		return l, fmt.Errorf("%w: missing router count", ErrMalformed)
	}
	return l, nil
}

func u16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func findExt(b []byte, t tlv.Type) (link.ExtAddress, bool) {
	var a link.ExtAddress
	v, ok := tlv.Find(b, t)
	if !ok || len(v) != len(a) {
		return a, false
	}
	copy(a[:], v)
	return a, true
}

func findU8(b []byte, t tlv.Type) (uint8, bool) {
	v, ok := tlv.Find(b, t)
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

func findU16(b []byte, t tlv.Type) (uint16, bool) {
	v, ok := tlv.Find(b, t)
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}
