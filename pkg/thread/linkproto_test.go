package thread

import (
	"errors"
	"testing"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/netdata"
	"github.com/backkem/thread/pkg/tlv"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	extA = link.ExtAddress{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	extB = link.ExtAddress{0x0f, 0xed, 0xcb, 0xa9, 0x87, 0x65, 0x43, 0x21}

	testLeaderData = netdata.LeaderData{
		PartitionID:       0xdeadbeef,
		Weighting:         64,
		DataVersion:       7,
		StableDataVersion: 3,
		LeaderRouterID:    12,
	}
)

func TestLinkRequest(t *testing.T) {
	req := LinkRequest{Source: extA, Mode: bootstrap.RoleREED, ShortAddress: 0x0401}
	got, err := DecodeLinkRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, req, got)

	// An invalid short address is not sent and decodes as invalid.
	req.ShortAddress = link.ShortAddressInvalid
	b := req.Encode()
	assert.False(t, tlv.Contains(b, TypeShortAddress))
	got, err = DecodeLinkRequest(b)
	require.NoError(t, err)
	assert.Equal(t, link.ShortAddressInvalid, got.ShortAddress)
}

func TestDecodeLinkRequest_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"truncated", []byte{byte(TypeSource), 8, 1, 2}},
		{"no source", tlv.Append(nil, TypeMode, []byte{1})},
		{"short source", tlv.Append(nil, TypeSource, []byte{1, 2, 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeLinkRequest(tt.in); !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeLinkRequest() = %v, want %v", err, ErrMalformed)
			}
		})
	}
}

func TestChildIDResponse(t *testing.T) {
	resp := ChildIDResponse{
		Parent:        extA,
		ParentShort:   0x0400,
		ShortAddress:  0x0401,
		LeaderData:    testLeaderData,
		RouterCount:   4,
		NetworkData:   []byte{0x01, 0x02},
		ActiveDataset: []byte{0x0e, 0x08, 0, 0, 0, 0, 0, 1, 0, 0},
	}
	got, err := DecodeChildIDResponse(resp.Encode())
	require.NoError(t, err)
	if diff := cmp.Diff(resp, got); diff != "" {
		t.Errorf("DecodeChildIDResponse() mismatch (-want +got):\n%s", diff)
	}

	ev := got.Event()
	assert.Equal(t, extA, ev.Parent)
	assert.Equal(t, link.ShortAddress(0x0400), ev.ParentShort)
	assert.Equal(t, link.ShortAddress(0x0401), ev.ShortAddress)
	assert.Equal(t, testLeaderData, ev.LeaderData)
	assert.Equal(t, uint8(4), ev.RouterCount)
	assert.Equal(t, resp.ActiveDataset, ev.ActiveDataset)
}

func TestChildIDResponse_Optional(t *testing.T) {
	resp := ChildIDResponse{Parent: extA, ParentShort: 0x0400, ShortAddress: 0x0402, LeaderData: testLeaderData}
	b := resp.Encode()
	assert.False(t, tlv.Contains(b, TypeNetworkData))
	assert.False(t, tlv.Contains(b, TypeActiveDataset))

	got, err := DecodeChildIDResponse(b)
	require.NoError(t, err)
	assert.Nil(t, got.NetworkData)
	assert.Nil(t, got.ActiveDataset)

	// Empty network data is still delivered.
	resp.NetworkData = []byte{}
	got, err = DecodeChildIDResponse(resp.Encode())
	require.NoError(t, err)
	assert.NotNil(t, got.NetworkData)
}

func TestDecodeChildIDResponse_Malformed(t *testing.T) {
	full := ChildIDResponse{Parent: extA, ParentShort: 0x0400, ShortAddress: 0x0401, LeaderData: testLeaderData}.Encode()
	drop := func(t tlv.Type) []byte {
		var out []byte
		_ = tlv.Each(full, func(e tlv.TLV) error {
			if e.Type != t {
				out = tlv.Append(out, e.Type, e.Value)
			}
			return nil
		})
		return out
	}

	for _, typ := range []tlv.Type{TypeSource, TypeParentShort, TypeShortAddress, TypeLeaderData, TypeRouterCount} {
		if _, err := DecodeChildIDResponse(drop(typ)); !errors.Is(err, ErrMalformed) {
			t.Errorf("without type %d: DecodeChildIDResponse() = %v, want %v", typ, err, ErrMalformed)
		}
	}

	bad := append(drop(TypeLeaderData), tlv.Append(nil, TypeLeaderData, []byte{1, 2})...)
	if _, err := DecodeChildIDResponse(bad); !errors.Is(err, ErrMalformed) {
		t.Errorf("short leader data: DecodeChildIDResponse() = %v, want %v", err, ErrMalformed)
	}
}

func TestRouterIDResponse(t *testing.T) {
	tests := []struct {
		in     []byte
		want   uint8
		wantOK bool
	}{
		{EncodeRouterIDResponse(5), 5, true},
		{EncodeRouterIDResponse(0), 0, true},
		{EncodeRouterIDResponse(netdata.InvalidRouterID), netdata.InvalidRouterID, false},
		{EncodeRouterIDResponse(200), netdata.InvalidRouterID, false},
		{nil, netdata.InvalidRouterID, false},
	}
	for _, tt := range tests {
		got, ok := DecodeRouterIDResponse(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DecodeRouterIDResponse(%x) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAnnounce(t *testing.T) {
	a := Announce{Source: extB, Channel: 20, Page: 0, PanID: 0xface, ActiveTimestamp: 0x0000_0001_0000_0002}
	got, err := DecodeAnnounce(a.Encode())
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = DecodeAnnounce(tlv.Append(nil, TypeSource, extB[:]))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLeaderAdvertisement(t *testing.T) {
	adv := LeaderAdvertisement{Source: extA, LeaderData: testLeaderData, RouterCount: 9}
	got, err := DecodeLeaderAdvertisement(adv.Encode())
	require.NoError(t, err)
	assert.Equal(t, adv, got)

	_, err = DecodeLeaderAdvertisement(tlv.Append(nil, TypeSource, extA[:]))
	assert.ErrorIs(t, err, ErrMalformed)

	noCount := tlv.Append(tlv.Append(nil, TypeSource, extA[:]), TypeLeaderData, testLeaderData.Value())
	_, err = DecodeLeaderAdvertisement(noCount)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParentTable(t *testing.T) {
	pt := newParentTable()

	c1, ok := pt.child(extA)
	require.True(t, ok)
	c2, ok := pt.child(extB)
	require.True(t, ok)
	assert.NotEqual(t, c1, c2)
	assert.NotZero(t, c1)

	again, _ := pt.child(extA)
	assert.Equal(t, c1, again, "a child keeps its id")
	assert.True(t, pt.isChild(extA))

	// The leader's own id is never handed out.
	r1, added, ok := pt.routerID(extA, 0)
	require.True(t, ok)
	assert.True(t, added)
	assert.Equal(t, uint8(1), r1)
	same, added, _ := pt.routerID(extA, 0)
	assert.False(t, added, "a repeated request keeps the id")
	assert.Equal(t, r1, same)
	assert.False(t, pt.isChild(extA), "a new router is no longer a child")

	r2, _, ok := pt.routerID(extB, 0)
	require.True(t, ok)
	assert.Equal(t, uint8(2), r2)

	children, routers := pt.counts()
	assert.Equal(t, 0, children)
	assert.Equal(t, 2, routers)

	assert.True(t, pt.releaseRouter(extA))
	assert.False(t, pt.releaseRouter(extA))
	r3, _, _ := pt.routerID(link.ExtAddress{9}, 0)
	assert.Equal(t, uint8(1), r3, "released ids are reused")

	pt.reset()
	children, routers = pt.counts()
	assert.Zero(t, children+routers)
}

func TestParentTable_RouterIDsExhausted(t *testing.T) {
	pt := newParentTable()
	for i := range netdata.InvalidRouterID - 1 {
		_, _, ok := pt.routerID(link.ExtAddress{0, byte(i + 1)}, 0)
		require.True(t, ok)
	}
	_, _, ok := pt.routerID(link.ExtAddress{0xff}, 0)
	assert.False(t, ok)
}
