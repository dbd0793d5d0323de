package thread

import (
	"context"
	"encoding/hex"
	"math/rand/v2"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/management"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/transport"
	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitFor = 5 * time.Second

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

func testDataset(t *testing.T) []byte {
	t.Helper()
	b, err := testLinkConfiguration().Encode()
	require.NoError(t, err)
	return b
}

// mdnsDirectory is an in-memory mDNS: records registered through it are
// returned by Browse until shut down.
type mdnsDirectory struct {
	mu      sync.Mutex
	entries map[string]*zeroconf.ServiceEntry
}

func newMDNSDirectory() *mdnsDirectory {
	return &mdnsDirectory{entries: make(map[string]*zeroconf.ServiceEntry)}
}

func (d *mdnsDirectory) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (discovery.MDNSServer, error) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: service, Domain: domain},
		HostName:      instance + ".local.",
		Port:          port,
		Text:          txt,
		AddrIPv4:      []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[instance] = entry
	return &directoryRecord{dir: d, instance: instance}, nil
}

func (d *mdnsDirectory) Browse(ctx context.Context, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	d.mu.Lock()
	var found []*zeroconf.ServiceEntry
	for _, e := range d.entries {
		if e.Service == service {
			found = append(found, e)
		}
	}
	d.mu.Unlock()

	for _, e := range found {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *mdnsDirectory) published() []discovery.MeshCoPTXT {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []discovery.MeshCoPTXT
	for _, e := range d.entries {
		if txt, err := discovery.ParseMeshCoPTXT(e.Text); err == nil {
			out = append(out, *txt)
		}
	}
	return out
}

type directoryRecord struct {
	dir      *mdnsDirectory
	instance string
}

func (r *directoryRecord) Shutdown() {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	delete(r.dir.entries, r.instance)
}

type statusLog struct {
	mu    sync.Mutex
	roles []bootstrap.Role
}

func (l *statusLog) record(st bootstrap.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roles = append(l.roles, st.Role)
}

func (l *statusLog) seen(r bootstrap.Role) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.roles {
		if got == r {
			return true
		}
	}
	return false
}

func testNodeConfig(t *testing.T, dir *mdnsDirectory, conn net.PacketConn, seed uint64) NodeConfig {
	t.Helper()
	scanner, err := discovery.NewMeshCoPScanner(discovery.ScannerConfig{MDNSResolver: dir})
	require.NoError(t, err)

	return NodeConfig{
		Interfaces: []InterfaceConfig{{
			ID:            0,
			EUI64:         hex.EncodeToString([]byte{0x02, 0, 0, 0, 0, 0, byte(seed >> 8), byte(seed)}),
			ActiveDataset: hex.EncodeToString(testDataset(t)),
			Advertise:     true,
			Conn:          conn,
		}},
		TickInterval:          5 * time.Millisecond,
		ScanDuration:          20 * time.Millisecond,
		RoleRetryLimit:        1,
		RouterSelectionJitter: 2,
		Scanner:               scanner,
		MDNSServerFactory:     dir,
		Rand:                  rand.New(rand.NewPCG(seed, seed+1)),
	}
}

func roleIs(n *Node, r bootstrap.Role) func() bool {
	return func() bool {
		st, ok := n.Status(0)
		return ok && st.State.Attached() && st.Role == r
	}
}

func TestNode_FormAndAttach(t *testing.T) {
	pipe := transport.NewPipe()
	defer pipe.Close()
	c0, c1 := pipe.PacketConns(transport.ManagementPort)
	dir := newMDNSDirectory()

	var leaderLog statusLog
	cfg := testNodeConfig(t, dir, c0, 1)
	cfg.OnStatusChanged = leaderLog.record
	leader, err := NewNode(cfg)
	require.NoError(t, err)
	require.NoError(t, leader.Start(context.Background()))
	defer leader.Stop()

	require.Eventually(t, roleIs(leader, bootstrap.RoleLeader), waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(dir.published()) == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, leaderLog.seen(bootstrap.RoleLeader))

	txt := dir.published()[0]
	assert.Equal(t, discovery.RoleLeader, txt.Role())
	assert.Equal(t, link.PanID(0xface), txt.PanID)

	router, err := NewNode(testNodeConfig(t, dir, c1, 2))
	require.NoError(t, err)
	require.NoError(t, router.Start(context.Background()))
	defer router.Stop()

	require.Eventually(t, roleIs(router, bootstrap.RoleRouter), waitFor, 5*time.Millisecond)

	ls, _ := leader.Status(0)
	rs, _ := router.Status(0)
	assert.Equal(t, ls.LeaderData.PartitionID, rs.LeaderData.PartitionID, "router joined the leader's partition")
	assert.NotEqual(t, ls.ShortAddress.RouterID(), rs.ShortAddress.RouterID())
	assert.Equal(t, rs.ShortAddress, router.Radio().State().ShortAddress)

	// Both ends count the leader and the new router.
	require.Eventually(t, func() bool {
		st, _ := leader.Status(0)
		return st.RouterCount == 2
	}, waitFor, 5*time.Millisecond)
	rs, _ = router.Status(0)
	assert.Equal(t, uint8(2), rs.RouterCount)

	children, routers, err := leader.Children(0)
	require.NoError(t, err)
	assert.Equal(t, 0, children)
	assert.Equal(t, 1, routers)

	require.NoError(t, router.Stop())
	assert.Equal(t, NodeStateStopped, router.State())
}

func TestNode_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	pipe := transport.NewPipe()
	defer pipe.Close()
	c0, _ := pipe.PacketConns(transport.ManagementPort)

	var states []NodeState
	var mu sync.Mutex
	cfg := testNodeConfig(t, newMDNSDirectory(), c0, 3)
	cfg.Interfaces[0].Advertise = false
	cfg.OnStateChanged = func(s NodeState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}

	n, err := NewNode(cfg)
	require.NoError(t, err)
	assert.Equal(t, NodeStateInitialized, n.State())
	assert.ErrorIs(t, n.Stop(), ErrNotStarted)
	assert.ErrorIs(t, n.Wait(), ErrNotStarted)
	_, _, err = n.Children(0)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, n.Start(context.Background()))
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, []link.InterfaceID{0}, n.Interfaces())

	addr, err := n.LocalAddr(0)
	require.NoError(t, err)
	assert.Equal(t, transport.PipeAddr{ID: 0, Port: transport.ManagementPort}, addr)
	_, err = n.LocalAddr(7)
	assert.ErrorIs(t, err, ErrUnknownInterface)
	assert.ErrorIs(t, n.Post(7, bootstrap.Init{}), ErrUnknownInterface)

	// Alone on the link, the node forms its own partition.
	require.Eventually(t, roleIs(n, bootstrap.RoleLeader), waitFor, 5*time.Millisecond)
	assert.True(t, n.Radio().State().Running)

	nd, ok := n.NetworkData(0)
	require.True(t, ok)
	assert.NotNil(t, nd)

	require.NoError(t, n.Reset(0))
	require.Eventually(t, roleIs(n, bootstrap.RoleLeader), waitFor, 5*time.Millisecond)

	require.NoError(t, n.Stop())
	assert.ErrorIs(t, n.Stop(), ErrAlreadyStopped)
	err = n.Start(context.Background())
	assert.Error(t, err, "a stopped node cannot be restarted")
	assert.NotErrorIs(t, err, ErrAlreadyStarted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []NodeState{NodeStateRunning, NodeStateStopped}, states)
}

func TestNode_ContextCancel(t *testing.T) {
	pipe := transport.NewPipe()
	defer pipe.Close()
	c0, _ := pipe.PacketConns(transport.ManagementPort)

	cfg := testNodeConfig(t, newMDNSDirectory(), c0, 4)
	n, err := NewNode(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Start(ctx))
	cancel()

	done := make(chan error, 1)
	go func() { done <- n.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Wait() did not return after cancel")
	}
	require.NoError(t, n.Stop())
}

// peer is a bare messaging endpoint on the far side of the pipe.
type peer struct {
	udp *transport.UDP
	svc *messaging.Service

	mu        sync.Mutex
	announces []Announce
}

func newPeer(t *testing.T, conn net.PacketConn) *peer {
	t.Helper()
	p := &peer{}
	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:           conn,
		MessageHandler: func(msg *transport.ReceivedMessage) { p.svc.HandleDatagram(msg) },
	})
	require.NoError(t, err)
	p.udp = udp
	p.svc, err = messaging.NewService(messaging.Config{Transport: udp})
	require.NoError(t, err)
	p.svc.Handle(PathAnnounce, func(req *messaging.Message, _ net.Addr) (messaging.Code, []byte) {
		a, err := DecodeAnnounce(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		p.mu.Lock()
		p.announces = append(p.announces, a)
		p.mu.Unlock()
		return messaging.Changed, nil
	})
	require.NoError(t, udp.Start())
	return p
}

func (p *peer) close() {
	_ = p.svc.Close()
	_ = p.udp.Stop()
}

func (p *peer) announced() []Announce {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Announce(nil), p.announces...)
}

func TestNode_Management(t *testing.T) {
	pipe := transport.NewPipe()
	defer pipe.Close()
	c0, c1 := pipe.PacketConns(transport.ManagementPort)

	cfg := testNodeConfig(t, newMDNSDirectory(), c0, 5)
	cfg.Interfaces[0].Advertise = false
	cfg.Interfaces[0].BroadcastAddr = c0.LocalAddr()
	n, err := NewNode(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	p := newPeer(t, c1)
	defer p.close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	client := management.NewClient(p.svc)
	dest := transport.PipeAddr{ID: 0, Port: transport.ManagementPort}

	got, err := client.ActiveGet(ctx, dest)
	require.NoError(t, err)
	lc, err := dataset.DecodeLinkConfiguration(got)
	require.NoError(t, err)
	assert.Equal(t, testLinkConfiguration().NetworkName, lc.NetworkName)
	assert.Equal(t, link.Channel(15), lc.Channel)

	require.Eventually(t, roleIs(n, bootstrap.RoleLeader), waitFor, 5*time.Millisecond)

	err = client.AnnounceBegin(ctx, dest, management.AnnounceBegin{
		ChannelMask: link.Channel(11).MaskBit() | link.Channel(12).MaskBit(),
		Count:       2,
		Period:      time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(p.announced()) >= 4 }, waitFor, 5*time.Millisecond)
	a := p.announced()[0]
	assert.Equal(t, link.Channel(15), a.Channel)
	assert.Equal(t, link.PanID(0xface), a.PanID)
	assert.Equal(t, dataset.Timestamp{Seconds: 10}.Uint64(), a.ActiveTimestamp)

	in, ok := n.Dataset(0)
	require.True(t, ok)
	assert.Equal(t, in.Identity().ExtAddress, a.Source)
}

func TestLinkMux_Routes(t *testing.T) {
	reg := dataset.NewRegistry(dataset.RegistryConfig{})
	m := newLinkMux(reg, nil)

	_, err := m.Send(bootstrap.Request{Interface: 0, Kind: bootstrap.RequestLinkSync, Peer: extA}, messaging.DefaultTimeoutParams(), messaging.RetryPolicy{})
	assert.ErrorIs(t, err, ErrUnknownInterface)

	m.addPort(&port{id: 0, parent: newParentTable()})
	_, err = m.Send(bootstrap.Request{Interface: 0, Kind: bootstrap.RequestLinkSync, Peer: extA}, messaging.DefaultTimeoutParams(), messaging.RetryPolicy{})
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = m.Send(bootstrap.Request{Interface: 0, Kind: bootstrap.RequestAnnounce, Announcement: &bootstrap.Announcement{Channel: 11}}, messaging.DefaultTimeoutParams(), messaging.RetryPolicy{})
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = m.Send(bootstrap.Request{Interface: 0, Kind: bootstrap.RequestAnnounce}, messaging.DefaultTimeoutParams(), messaging.RetryPolicy{})
	assert.ErrorIs(t, err, ErrMalformed)

	assert.ErrorIs(t, m.Cancel(42), messaging.ErrUnknownHandle)
	assert.ErrorIs(t, m.broadcastTo(3, PathLeaderData, nil), ErrUnknownInterface)
	assert.ErrorIs(t, m.broadcastTo(0, PathLeaderData, nil), ErrNoRoute)

	addr := transport.PipeAddr{ID: 1, Port: 9}
	m.learn(0, extA, addr)
	m.learn(0, link.ExtAddress{}, addr)
	got, ok := m.neighbor(0, extA)
	require.True(t, ok)
	assert.Equal(t, addr, got)

	m.resetNeighbors()
	_, ok = m.neighbor(0, extA)
	assert.False(t, ok)

	assert.NotNil(t, m.removePort(0))
	assert.Zero(t, m.pending())
}
