package management

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/tlv"
	"github.com/backkem/thread/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNetworkKey = [dataset.NetworkKeySize]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func testLinkConfiguration() dataset.LinkConfiguration {
	return dataset.LinkConfiguration{
		NetworkName:     "OpenThread",
		ExtendedPanID:   link.ExtendedPanID{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe},
		MeshLocalPrefix: [8]byte{0xfd, 0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0x00},
		NetworkKey:      testNetworkKey,
		PanID:           0xface,
		Channel:         15,
		SecurityPolicy:  dataset.DefaultSecurityPolicy,
		ActiveTimestamp: dataset.Timestamp{Seconds: 10},
	}
}

func encode(t *testing.T, lc dataset.LinkConfiguration) []byte {
	t.Helper()
	b, err := lc.Encode()
	require.NoError(t, err)
	return b
}

type harness struct {
	client  *Client
	server  *Server
	dataset *dataset.Instance
	addr    net.Addr

	mu        sync.Mutex
	changed   []dataset.Kind
	announces []AnnounceBegin
	queries   []PanIDQuery
	scans     []EnergyScan
	conflicts []PanIDConflict
	reports   []EnergyReport
}

func newHarness(t *testing.T, withActive bool) *harness {
	t.Helper()

	in, err := dataset.NewInstance(dataset.Config{Interface: 0})
	require.NoError(t, err)
	if withActive {
		require.NoError(t, in.UpdateActive(encode(t, testLinkConfiguration())))
	}

	h := &harness{dataset: in}

	var s0, s1 *messaging.Service
	u0, u1, p, err := transport.NewUDPPair(
		func(m *transport.ReceivedMessage) { s0.HandleDatagram(m) },
		func(m *transport.ReceivedMessage) { s1.HandleDatagram(m) },
	)
	require.NoError(t, err)
	s0, err = messaging.NewService(messaging.Config{Transport: u0})
	require.NoError(t, err)
	s1, err = messaging.NewService(messaging.Config{Transport: u1})
	require.NoError(t, err)

	h.server, err = NewServer(ServerConfig{
		Dataset:          in,
		MinDelayTimer:    time.Second,
		OnDatasetChanged: func(k dataset.Kind) { h.mu.Lock(); h.changed = append(h.changed, k); h.mu.Unlock() },
		OnAnnounceBegin:  func(a AnnounceBegin) { h.mu.Lock(); h.announces = append(h.announces, a); h.mu.Unlock() },
		OnPanIDQuery:     func(q PanIDQuery, _ net.Addr) { h.mu.Lock(); h.queries = append(h.queries, q); h.mu.Unlock() },
		OnEnergyScan:     func(e EnergyScan, _ net.Addr) { h.mu.Lock(); h.scans = append(h.scans, e); h.mu.Unlock() },
		OnPanIDConflict:  func(c PanIDConflict, _ net.Addr) { h.mu.Lock(); h.conflicts = append(h.conflicts, c); h.mu.Unlock() },
		OnEnergyReport:   func(r EnergyReport, _ net.Addr) { h.mu.Lock(); h.reports = append(h.reports, r); h.mu.Unlock() },
	})
	require.NoError(t, err)
	h.server.Register(s1)
	h.client = NewClient(s0)
	h.addr = u1.LocalAddr()

	require.NoError(t, u0.Start())
	require.NoError(t, u1.Start())
	t.Cleanup(func() {
		s0.Close()
		s1.Close()
		u0.Stop()
		u1.Stop()
		p.Close()
	})
	return h
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestNewServer_RequiresDataset(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestActiveGet(t *testing.T) {
	h := newHarness(t, true)

	all, err := h.client.ActiveGet(ctx(t), h.addr)
	require.NoError(t, err)
	assert.Equal(t, encode(t, testLinkConfiguration()), all)

	some, err := h.client.ActiveGet(ctx(t), h.addr, dataset.TypeNetworkName, dataset.TypePanID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []tlv.Type{dataset.TypePanID, dataset.TypeNetworkName}, tlv.Types(some))
	name, _ := tlv.Find(some, dataset.TypeNetworkName)
	assert.Equal(t, "OpenThread", string(name))
}

func TestActiveGet_Ignored(t *testing.T) {
	h := newHarness(t, true)
	h.server.config.Ignore = []tlv.Type{dataset.TypeNetworkName}

	out, err := h.client.ActiveGet(ctx(t), h.addr)
	require.NoError(t, err)
	assert.NotContains(t, tlv.Types(out), dataset.TypeNetworkName)
	assert.Contains(t, tlv.Types(out), dataset.TypeNetworkKey)

	out, err = h.client.ActiveGet(ctx(t), h.addr, dataset.TypeNetworkName)
	require.NoError(t, err)
	assert.Empty(t, out)

	// Without the obtain-network-key flag the key stays on the node.
	lc := testLinkConfiguration()
	lc.SecurityPolicy.Flags &^= dataset.PolicyObtainNetworkKey
	lc.ActiveTimestamp = dataset.Timestamp{Seconds: 11}
	require.NoError(t, h.dataset.UpdateActive(encode(t, lc)))

	out, err = h.client.ActiveGet(ctx(t), h.addr)
	require.NoError(t, err)
	types := tlv.Types(out)
	assert.NotContains(t, types, dataset.TypeNetworkKey)
	assert.NotContains(t, types, dataset.TypePSKc)
	assert.Contains(t, types, dataset.TypePanID)
}

func TestActiveGet_NoDataset(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.client.ActiveGet(ctx(t), h.addr)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestActiveSet(t *testing.T) {
	h := newHarness(t, true)

	lc := testLinkConfiguration()
	lc.NetworkName = "Renamed"
	lc.ActiveTimestamp = dataset.Timestamp{Seconds: 11}
	payload := tlv.Append(encode(t, lc), dataset.TypeCommissionerSessionID, []byte{0x12, 0x34})

	require.NoError(t, h.client.ActiveSet(ctx(t), h.addr, payload))

	got, ok := h.dataset.LinkConfiguration()
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.NetworkName)
	active, _ := h.dataset.Active()
	assert.False(t, active.Has(dataset.TypeCommissionerSessionID))

	h.mu.Lock()
	assert.Equal(t, []dataset.Kind{dataset.KindActive}, h.changed)
	h.mu.Unlock()
}

func TestActiveSet_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*dataset.LinkConfiguration)
	}{
		{"stale timestamp", func(lc *dataset.LinkConfiguration) { lc.NetworkName = "x" }},
		{"channel change", func(lc *dataset.LinkConfiguration) {
			lc.ActiveTimestamp.Seconds = 20
			lc.Channel = 20
		}},
		{"key change", func(lc *dataset.LinkConfiguration) {
			lc.ActiveTimestamp.Seconds = 20
			lc.NetworkKey[0] ^= 0xff
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			lc := testLinkConfiguration()
			tt.mutate(&lc)

			err := h.client.ActiveSet(ctx(t), h.addr, encode(t, lc))
			assert.ErrorIs(t, err, ErrRejected)

			got, _ := h.dataset.LinkConfiguration()
			assert.Equal(t, testLinkConfiguration().NetworkName, got.NetworkName)
			assert.Equal(t, link.Channel(15), got.Channel)
		})
	}
}

func TestActiveSet_MissingTimestamp(t *testing.T) {
	h := newHarness(t, true)
	payload := tlv.Append(nil, dataset.TypeNetworkName, []byte("x"))
	assert.ErrorIs(t, h.client.ActiveSet(ctx(t), h.addr, payload), ErrRejected)
}

func pendingPayload(t *testing.T, lc dataset.LinkConfiguration, pendingSeconds uint64, delayMS uint32) []byte {
	t.Helper()
	w := tlv.NewWriter(0)
	require.NoError(t, w.Put(dataset.TypePendingTimestamp, dataset.Timestamp{Seconds: pendingSeconds}.Value()))
	require.NoError(t, w.PutUint32(dataset.TypeDelayTimer, delayMS))
	return append(encode(t, lc), w.Bytes()...)
}

func TestPendingSetAndGet(t *testing.T) {
	h := newHarness(t, true)

	lc := testLinkConfiguration()
	lc.Channel = 20
	lc.ActiveTimestamp = dataset.Timestamp{Seconds: 20}

	// Delay below the server minimum is raised to it.
	require.NoError(t, h.client.PendingSet(ctx(t), h.addr, pendingPayload(t, lc, 5, 10)))
	assert.True(t, h.dataset.PendingArmed())

	out, err := h.client.PendingGet(ctx(t), h.addr, dataset.TypeDelayTimer, dataset.TypeChannel)
	require.NoError(t, err)
	delay, ok := tlv.Find(out, dataset.TypeDelayTimer)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0x03, 0xe8}, delay)
	ch, _ := tlv.Find(out, dataset.TypeChannel)
	assert.Equal(t, dataset.ChannelValue(0, 20), ch)

	// Same pending timestamp is stale.
	err = h.client.PendingSet(ctx(t), h.addr, pendingPayload(t, lc, 5, 1000))
	assert.ErrorIs(t, err, ErrRejected)

	activated, err := h.dataset.TickSeconds(1)
	require.NoError(t, err)
	assert.True(t, activated)
	got, _ := h.dataset.LinkConfiguration()
	assert.Equal(t, link.Channel(20), got.Channel)
}

func TestPendingSet_MissingDelay(t *testing.T) {
	h := newHarness(t, true)
	payload := encode(t, testLinkConfiguration())
	payload = tlv.Append(payload, dataset.TypePendingTimestamp, dataset.Timestamp{Seconds: 1}.Value())
	assert.ErrorIs(t, h.client.PendingSet(ctx(t), h.addr, payload), ErrRejected)
	assert.False(t, h.dataset.PendingArmed())
}

func TestScanCommands(t *testing.T) {
	h := newHarness(t, true)
	mask := link.Channel(11).MaskBit() | link.Channel(25).MaskBit()

	require.NoError(t, h.client.PanIDQuery(ctx(t), h.addr, PanIDQuery{SessionID: 7, ChannelMask: mask, PanID: 0xbeef}))
	require.NoError(t, h.client.EnergyScan(ctx(t), h.addr, EnergyScan{
		SessionID: 7, ChannelMask: mask, Count: 2, Period: 100 * time.Millisecond, ScanDuration: 32 * time.Millisecond,
	}))
	require.NoError(t, h.client.AnnounceBegin(ctx(t), h.addr, AnnounceBegin{SessionID: 7, ChannelMask: mask, Count: 3, Period: time.Second}))
	require.NoError(t, h.client.ReportPanIDConflict(ctx(t), h.addr, PanIDConflict{ChannelMask: mask, PanID: 0xbeef}))
	require.NoError(t, h.client.ReportEnergy(ctx(t), h.addr, EnergyReport{ChannelMask: mask, Energy: []int8{-90, -80, -70, -60}}))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []PanIDQuery{{SessionID: 7, ChannelMask: mask, PanID: 0xbeef}}, h.queries)
	assert.Equal(t, []EnergyScan{{SessionID: 7, ChannelMask: mask, Count: 2, Period: 100 * time.Millisecond, ScanDuration: 32 * time.Millisecond}}, h.scans)
	assert.Equal(t, []AnnounceBegin{{SessionID: 7, ChannelMask: mask, Count: 3, Period: time.Second}}, h.announces)
	assert.Equal(t, []PanIDConflict{{ChannelMask: mask, PanID: 0xbeef}}, h.conflicts)
	assert.Equal(t, []EnergyReport{{ChannelMask: mask, Energy: []int8{-90, -80, -70, -60}}}, h.reports)
}

func TestScanCommand_BadRequest(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.client.post(ctx(t), h.addr, PathAnnounceBegin, tlv.Append(nil, dataset.TypeCount, []byte{1}))
	assert.True(t, errors.Is(err, ErrBadResponse), "post() = %v", err)
}

func TestNewServer_Defaults(t *testing.T) {
	in, err := dataset.NewInstance(dataset.Config{})
	require.NoError(t, err)
	s, err := NewServer(ServerConfig{Dataset: in})
	require.NoError(t, err)
	assert.Equal(t, DefaultMinDelayTimer, s.config.MinDelayTimer)
}

func TestWithout(t *testing.T) {
	b := tlv.Append(nil, 1, []byte{1})
	b = tlv.Append(b, 11, []byte{2, 3})
	b = tlv.Append(b, 2, nil)
	assert.Equal(t, []tlv.Type{1, 2}, tlv.Types(without(b, 11)))
}
