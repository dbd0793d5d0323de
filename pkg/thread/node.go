package thread

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/management"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/netdata"
	"github.com/backkem/thread/pkg/security"
	"github.com/backkem/thread/pkg/storage"
	"github.com/backkem/thread/pkg/transport"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

// ThreadVersion is published in the MeshCoP TXT record.
const ThreadVersion = "1.3.0"

// Node is a Thread control plane with one or more interfaces.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Node struct {
	config NodeConfig
	log    logging.LeveledLogger

	store      storage.Storage
	ownedStore *storage.SQLiteStorage
	datasets   *dataset.Registry
	engine     *bootstrap.Engine
	mux        *linkMux
	radio      *VirtualRadio
	ids        []link.InterfaceID
	ifaces     map[link.InterfaceID]InterfaceConfig

	mu          sync.RWMutex
	state       NodeState
	cancel      context.CancelFunc
	group       *errgroup.Group
	advertisers map[link.InterfaceID]*discovery.Advertiser
	advCh       chan bootstrap.Status

	// Owned by the tick loop.
	ticks    int
	last     map[link.InterfaceID]bootstrap.Status
	lastLink map[link.InterfaceID]dataset.LinkConfiguration

	// lmu guards lastLink, which management callbacks read.
	lmu sync.Mutex
}

// NewNode creates a Node. Datasets and the last parent are restored from
// storage; an interface with no stored active dataset gets the one from its
// configuration, if any.
func NewNode(config NodeConfig) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config:      config,
		state:       NodeStateInitialized,
		ifaces:      make(map[link.InterfaceID]InterfaceConfig),
		advertisers: make(map[link.InterfaceID]*discovery.Advertiser),
		last:        make(map[link.InterfaceID]bootstrap.Status),
		lastLink:    make(map[link.InterfaceID]dataset.LinkConfiguration),
	}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}

	if err := n.openStorage(); err != nil {
		return nil, err
	}
	if err := n.initDatasets(); err != nil {
		n.closeStorage()
		return nil, err
	}
	if err := n.initEngine(); err != nil {
		n.closeStorage()
		return nil, err
	}
	return n, nil
}

func (n *Node) openStorage() error {
	switch {
	case n.config.Storage != nil:
		n.store = n.config.Storage
	case n.config.StoragePath != "":
		s, err := storage.OpenSQLite(n.config.StoragePath)
		if err != nil {
			return fmt.Errorf("thread: open storage: %w", err)
		}
		n.store = s
		n.ownedStore = s
	default:
		n.store = storage.NewMemoryStorage()
	}
	return nil
}

func (n *Node) closeStorage() {
	if n.ownedStore == nil {
		return
	}
	if err := n.ownedStore.Close(); err != nil && n.log != nil {
		n.log.Warnf("close storage: %v", err)
	}
	n.ownedStore = nil
}

func (n *Node) initDatasets() error {
	n.datasets = dataset.NewRegistry(dataset.RegistryConfig{
		MaxInterfaces: max(len(n.config.Interfaces), dataset.DefaultMaxInterfaces),
		Storage:       n.store,
		LoggerFactory: n.config.LoggerFactory,
	})

	for _, ic := range n.config.Interfaces {
		eui, _ := ic.eui64()
		in, err := n.datasets.Init(ic.ID, eui)
		if in == nil {
			return fmt.Errorf("thread: %s: %w", ic.ID, err)
		}
		if err != nil && n.log != nil {
			n.log.Warnf("%s restore: %v", ic.ID, err)
		}

		if _, ok := in.LinkConfiguration(); !ok {
			tlvs, _ := ic.activeDataset()
			if tlvs != nil {
				if err := in.UpdateActive(tlvs); err != nil {
					return fmt.Errorf("thread: %s: active dataset: %w", ic.ID, err)
				}
			}
		}
		if lc, ok := in.LinkConfiguration(); ok {
			n.lastLink[ic.ID] = lc
		}
		n.ids = append(n.ids, ic.ID)
		n.ifaces[ic.ID] = ic
	}
	slices.Sort(n.ids)
	return nil
}

func (n *Node) initEngine() error {
	scanner := n.config.Scanner
	if scanner == nil {
		s, err := discovery.NewMeshCoPScanner(discovery.ScannerConfig{LoggerFactory: n.config.LoggerFactory})
		if err != nil {
			return fmt.Errorf("thread: scanner: %w", err)
		}
		scanner = s
	}

	n.mux = newLinkMux(n.datasets, n.config.LoggerFactory)
	n.radio = NewVirtualRadio(n.config.LoggerFactory)
	n.radio.setResetHook(n.mux.resetNeighbors)

	engine, err := bootstrap.NewEngine(bootstrap.Config{
		Datasets:              n.datasets,
		Storage:               n.store,
		Messenger:             n.mux,
		Radio:                 n.radio,
		Scanner:               scanner,
		Rand:                  n.config.Rand,
		TracerProvider:        n.config.TracerProvider,
		ScanDuration:          n.config.ScanDuration,
		RoleRetryLimit:        n.config.RoleRetryLimit,
		ReattachRetryLimit:    n.config.ReattachRetryLimit,
		RouterSelectionJitter: n.config.RouterSelectionJitter,
		LoggerFactory:         n.config.LoggerFactory,
	})
	if err != nil {
		return fmt.Errorf("thread: %w", err)
	}
	n.engine = engine
	n.mux.engine = engine

	for _, id := range n.ids {
		ic := n.ifaces[id]
		mode, _ := ic.role()
		keys := security.NewKeyManager(security.KeyManagerConfig{
			Interface:     id,
			Storage:       n.store,
			LoggerFactory: n.config.LoggerFactory,
		})
		if err := engine.AddInterface(bootstrap.InterfaceConfig{
			ID:        id,
			Mode:      mode,
			Weighting: ic.Weighting,
			Keys:      keys,
		}); err != nil {
			return fmt.Errorf("thread: %s: %w", id, err)
		}
	}
	return nil
}

// Start opens the interfaces' sockets, runs the engine and its timers, and
// initializes every interface. The node runs until Stop or until ctx is done.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.state.CanStart() {
		if n.state == NodeStateRunning {
			return ErrAlreadyStarted
		}
		return fmt.Errorf("thread: cannot start in state %s", n.state)
	}
	n.state = NodeStateStarting

	for _, id := range n.ids {
		if err := n.startPort(n.ifaces[id]); err != nil {
			n.stopPorts()
			n.state = NodeStateInitialized
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	n.cancel = cancel
	n.group = g
	n.advCh = make(chan bootstrap.Status, 4*len(n.ids))

	g.Go(func() error {
		err := n.engine.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, bootstrap.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error { return n.tickLoop(gctx) })
	if len(n.advertisers) > 0 {
		g.Go(func() error { return n.advertiseLoop(gctx) })
	}

	for _, id := range n.ids {
		if err := n.engine.OnEvent(id, bootstrap.Init{}); err != nil {
			cancel()
			_ = g.Wait()
			n.stopPorts()
			n.state = NodeStateInitialized
			return fmt.Errorf("thread: %s: %w", id, err)
		}
	}

	n.state = NodeStateRunning
	if n.log != nil {
		n.log.Infof("node started with %d interfaces", len(n.ids))
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(n.state)
	}
	return nil
}

func (n *Node) startPort(ic InterfaceConfig) error {
	in, ok := n.datasets.Get(ic.ID)
	if !ok {
		return fmt.Errorf("thread: %s: %w", ic.ID, ErrUnknownInterface)
	}
	bcast, _ := ic.broadcastAddr()

	p := &port{id: ic.ID, broadcast: bcast, parent: newParentTable()}
	var group net.Addr
	if ua, ok := bcast.(*net.UDPAddr); ok && ua.IP.IsMulticast() {
		group = ua
	}
	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:       ic.Conn,
		ListenAddr: ic.ListenAddress,
		Group:      group,
		Interface:  ic.NetworkInterface,
		MessageHandler: func(msg *transport.ReceivedMessage) {
			p.svc.HandleDatagram(msg)
		},
		LoggerFactory: n.config.LoggerFactory,
	})
	if err != nil {
		return fmt.Errorf("thread: %s: listen: %w", ic.ID, err)
	}
	p.udp = udp

	p.svc, err = messaging.NewService(messaging.Config{
		Transport:     udp,
		OnTimeout:     n.mux.onTimeout(ic.ID),
		OnResponse:    n.mux.onResponse(ic.ID),
		LoggerFactory: n.config.LoggerFactory,
	})
	if err != nil {
		_ = udp.Stop()
		return fmt.Errorf("thread: %s: %w", ic.ID, err)
	}

	p.mgmt, err = management.NewServer(management.ServerConfig{
		Dataset:          in,
		OnDatasetChanged: n.onDatasetChanged(ic.ID),
		OnAnnounceBegin:  n.onAnnounceBegin(ic.ID),
		LoggerFactory:    n.config.LoggerFactory,
	})
	if err != nil {
		_ = udp.Stop()
		return fmt.Errorf("thread: %s: %w", ic.ID, err)
	}
	p.mgmt.Register(p.svc)
	n.mux.register(p)
	n.mux.addPort(p)

	if err := udp.Start(); err != nil {
		n.mux.removePort(ic.ID)
		_ = udp.Stop()
		return fmt.Errorf("thread: %s: %w", ic.ID, err)
	}

	if ic.Advertise {
		n.advertisers[ic.ID] = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          addrPort(udp.LocalAddr()),
			ServerFactory: n.config.MDNSServerFactory,
			LoggerFactory: n.config.LoggerFactory,
		})
	}
	return nil
}

func addrPort(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.Port
	case transport.PipeAddr:
		return a.Port
	default:
		return 0
	}
}

func (n *Node) stopPorts() {
	for _, id := range n.ids {
		p := n.mux.removePort(id)
		if p == nil {
			continue
		}
		_ = p.svc.Close()
		if err := p.udp.Stop(); err != nil && n.log != nil {
			n.log.Debugf("%s stop transport: %v", id, err)
		}
	}
	for id, adv := range n.advertisers {
		_ = adv.Close()
		delete(n.advertisers, id)
	}
}

// Stop shuts the node down. It cannot be restarted.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.state.CanStop() {
		state := n.state
		n.mu.Unlock()
		if state == NodeStateStopped {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}
	n.state = NodeStateStopping
	cancel, g := n.cancel, n.group
	n.mu.Unlock()

	cancel()
	err := g.Wait()
	_ = n.engine.Close()

	n.mu.Lock()
	n.stopPorts()
	n.closeStorage()
	n.state = NodeStateStopped
	n.mu.Unlock()

	if n.log != nil {
		n.log.Info("node stopped")
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(NodeStateStopped)
	}
	return err
}

// Wait blocks until the node's loops exit, either through Stop or because
// the context given to Start is done.
func (n *Node) Wait() error {
	n.mu.RLock()
	g := n.group
	n.mu.RUnlock()
	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

func (n *Node) tickLoop(ctx context.Context) error {
	t := time.NewTicker(n.config.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.tick()
		}
	}
}

func (n *Node) tick() {
	n.ticks++
	for _, id := range n.ids {
		if err := n.engine.Tick(id); err != nil && n.log != nil {
			n.log.Debugf("%s tick: %v", id, err)
		}
	}
	for _, id := range n.ids {
		n.observe(id)
	}
}

// observe reacts to the interface's status as of the previous ticks.
func (n *Node) observe(id link.InterfaceID) {
	st, ok := n.engine.Status(id)
	if !ok {
		return
	}
	if in, ok := n.datasets.Get(id); ok {
		if lc, ok := in.LinkConfiguration(); ok {
			n.lmu.Lock()
			n.lastLink[id] = lc
			n.lmu.Unlock()
		}
	}

	prev, seen := n.last[id]
	changed := !seen || statusChanged(prev, st)
	n.last[id] = st

	if changed {
		if n.log != nil {
			n.log.Infof("%s", st)
		}
		if !st.State.Attached() || st.Role < bootstrap.RoleRouter {
			if p, ok := n.mux.port(id); ok {
				p.parent.reset()
			}
		}
		if _, ok := n.advertisers[id]; ok {
			select {
			case n.advCh <- st:
			default:
				if n.log != nil {
					n.log.Debugf("%s advertiser busy, dropping update", id)
				}
			}
		}
		if n.config.OnStatusChanged != nil {
			n.config.OnStatusChanged(st)
		}
	}

	becameRouter := changed && (!seen || prev.Role < bootstrap.RoleRouter)
	if st.State.Attached() && st.Role >= bootstrap.RoleRouter &&
		(becameRouter || n.ticks%n.config.AdvertiseInterval == 0) {
		n.advertiseLeaderData(id, st)
	}
}

func statusChanged(a, b bootstrap.Status) bool {
	return a.State != b.State ||
		a.Role != b.Role ||
		a.Attach != b.Attach ||
		a.ShortAddress != b.ShortAddress ||
		a.LeaderData.PartitionID != b.LeaderData.PartitionID
}

func (n *Node) advertiseLeaderData(id link.InterfaceID, st bootstrap.Status) {
	adv := LeaderAdvertisement{
		Source:      n.mux.self(id),
		LeaderData:  st.LeaderData,
		RouterCount: st.RouterCount,
	}
	err := n.mux.broadcastTo(id, PathLeaderData, adv.Encode())
	if err != nil && !errors.Is(err, ErrNoRoute) && n.log != nil {
		n.log.Debugf("%s leader data: %v", id, err)
	}
}

// advertiseLoop publishes, updates and withdraws MeshCoP records. It runs
// apart from the tick loop because registration may retry for a while.
func (n *Node) advertiseLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-n.advCh:
			n.mu.RLock()
			adv := n.advertisers[st.Interface]
			n.mu.RUnlock()
			if adv != nil {
				n.publish(ctx, adv, st)
			}
		}
	}
}

func (n *Node) publish(ctx context.Context, adv *discovery.Advertiser, st bootstrap.Status) {
	if !st.State.Attached() {
		if adv.IsAdvertising() {
			_ = adv.Stop()
		}
		return
	}
	txt, ok := n.meshcopTXT(st)
	if !ok {
		return
	}
	var err error
	if adv.IsAdvertising() {
		err = adv.Update(ctx, txt)
	} else {
		err = adv.Start(ctx, txt)
	}
	if err != nil && ctx.Err() == nil && n.log != nil {
		n.log.Warnf("%s advertise: %v", st.Interface, err)
	}
}

func (n *Node) meshcopTXT(st bootstrap.Status) (discovery.MeshCoPTXT, bool) {
	in, ok := n.datasets.Get(st.Interface)
	if !ok {
		return discovery.MeshCoPTXT{}, false
	}
	lc, ok := in.LinkConfiguration()
	if !ok {
		return discovery.MeshCoPTXT{}, false
	}
	txt := discovery.MeshCoPTXT{
		ThreadVersion:   ThreadVersion,
		NetworkName:     lc.NetworkName,
		ExtendedPanID:   lc.ExtendedPanID,
		StateBitmap:     discovery.StateInterfaceActive,
		ActiveTimestamp: lc.ActiveTimestamp.Uint64(),
		PartitionID:     st.LeaderData.PartitionID,
		ExtAddress:      in.Identity().ExtAddress,
		VendorName:      "backkem",
		ModelName:       "thread-node",
		PanID:           lc.PanID,
		Channel:         lc.Channel,
	}
	switch st.Role {
	case bootstrap.RoleLeader:
		txt.SetRole(discovery.RoleLeader)
	case bootstrap.RoleRouter:
		txt.SetRole(discovery.RoleRouter)
	case bootstrap.RoleREED, bootstrap.RoleEndDevice:
		txt.SetRole(discovery.RoleChild)
	}
	return txt, true
}

func (n *Node) onDatasetChanged(id link.InterfaceID) func(dataset.Kind) {
	return func(kind dataset.Kind) {
		if kind != dataset.KindActive {
			if n.log != nil {
				n.log.Infof("%s %s dataset updated", id, kind)
			}
			return
		}
		ev := bootstrap.DatasetChanged{}
		in, ok := n.datasets.Get(id)
		if !ok {
			return
		}
		lc, ok := in.LinkConfiguration()
		n.lmu.Lock()
		prev, had := n.lastLink[id]
		if ok {
			n.lastLink[id] = lc
		}
		n.lmu.Unlock()
		if had && ok && (prev.Channel != lc.Channel || prev.PanID != lc.PanID) {
			ev.ChannelChanged = true
			ev.PreviousChannel = prev.Channel
		}
		if err := n.engine.OnEvent(id, ev); err != nil && n.log != nil {
			n.log.Warnf("%s dataset changed: %v", id, err)
		}
	}
}

func (n *Node) onAnnounceBegin(id link.InterfaceID) func(management.AnnounceBegin) {
	return func(a management.AnnounceBegin) {
		period := (a.Period + time.Second - 1) / time.Second
		ev := bootstrap.AnnounceBegin{
			ChannelMask: a.ChannelMask,
			Count:       a.Count,
			PeriodSec:   uint16(max(period, 1)),
		}
		if err := n.engine.OnEvent(id, ev); err != nil && n.log != nil {
			n.log.Warnf("%s announce begin: %v", id, err)
		}
	}
}

// State returns the current node state.
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Interfaces returns the configured interface ids in ascending order.
func (n *Node) Interfaces() []link.InterfaceID {
	return slices.Clone(n.ids)
}

// Status returns the bootstrap status of an interface.
func (n *Node) Status(id link.InterfaceID) (bootstrap.Status, bool) {
	return n.engine.Status(id)
}

// Dataset returns the dataset instance of an interface.
func (n *Node) Dataset(id link.InterfaceID) (*dataset.Instance, bool) {
	return n.datasets.Get(id)
}

// NetworkData returns the network data of an interface.
func (n *Node) NetworkData(id link.InterfaceID) (*netdata.Synchronizer, bool) {
	return n.engine.NetworkData(id)
}

// Radio returns the radio shared by the interfaces.
func (n *Node) Radio() *VirtualRadio {
	return n.radio
}

// Post queues an event for an interface.
func (n *Node) Post(id link.InterfaceID, ev bootstrap.Event) error {
	if _, ok := n.ifaces[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return n.engine.OnEvent(id, ev)
}

// Reset detaches an interface and restarts its attach process.
func (n *Node) Reset(id link.InterfaceID) error {
	return n.Post(id, bootstrap.Reset{Reason: bootstrap.ResetRequested})
}

// LocalAddr returns the link address of a running interface.
func (n *Node) LocalAddr(id link.InterfaceID) (net.Addr, error) {
	p, err := n.runningPort(id)
	if err != nil {
		return nil, err
	}
	return p.udp.LocalAddr(), nil
}

// ManagementClient returns a client that sends management commands from a
// running interface.
func (n *Node) ManagementClient(id link.InterfaceID) (*management.Client, error) {
	p, err := n.runningPort(id)
	if err != nil {
		return nil, err
	}
	return management.NewClient(p.svc), nil
}

// Children returns the number of children and granted router ids of an
// interface.
func (n *Node) Children(id link.InterfaceID) (children, routers int, err error) {
	p, err := n.runningPort(id)
	if err != nil {
		return 0, 0, err
	}
	children, routers = p.parent.counts()
	return children, routers, nil
}

func (n *Node) runningPort(id link.InterfaceID) (*port, error) {
	if n.State() != NodeStateRunning {
		return nil, ErrNotStarted
	}
	p, ok := n.mux.port(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return p, nil
}
