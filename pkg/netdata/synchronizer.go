package netdata

import (
	"bytes"
	"cmp"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net/netip"
	"slices"
	"sync"

	"github.com/backkem/thread/pkg/crypto"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/tlv"
	"github.com/gaissmai/bart"
	"github.com/pion/logging"
)

// InvalidRouterID marks the absence of a router ID.
const InvalidRouterID = 63

// NumContexts is the size of the 6LoWPAN context table.
const NumContexts = 16

// AddressEffects receives the address changes implied by network data.
// Calls happen with the synchronizer locked and must not call back into it.
type AddressEffects interface {
	// AddSLAAC configures a SLAAC address under prefix.
	AddSLAAC(prefix netip.Prefix, addr netip.Addr)

	// RequestDHCP starts DHCPv6 address acquisition for prefix from server.
	RequestDHCP(prefix netip.Prefix, server link.ShortAddress)

	// RemoveAddress drops any address configured under prefix.
	RemoveAddress(prefix netip.Prefix)
}

// Changed reports which network data versions moved forward on Save.
type Changed struct {
	Stable   bool
	Unstable bool
}

// Any reports whether either version changed.
func (c Changed) Any() bool {
	return c.Stable || c.Unstable
}

// Config configures a Synchronizer.
type Config struct {
	Interface link.InterfaceID

	// StableOnly restricts activation to stable entries, as on sleepy
	// end devices.
	StableOnly bool

	// Effects receives address changes. Nil discards them.
	Effects AddressEffects

	// IIDSecret keys stable SLAAC identifiers. Nil generates a random one.
	IIDSecret []byte

	// NetworkName is mixed into stable SLAAC identifiers.
	NetworkName string

	LoggerFactory logging.LoggerFactory
}

// PrefixInfo is the effective state of one on-mesh prefix.
type PrefixInfo struct {
	DomainID      uint8
	Prefix        netip.Prefix
	Stable        bool
	BorderRouters []BorderRouter
	Routes        []ExternalRoute
	SLAAC         netip.Addr
	DHCPServer    link.ShortAddress
}

// OnMesh reports whether any border router marks the prefix on-mesh.
func (p PrefixInfo) OnMesh() bool {
	for _, br := range p.BorderRouters {
		if br.Has(FlagOnMesh) {
			return true
		}
	}
	return false
}

type prefixEntry struct {
	PrefixInfo
	gen uint32
}

type contextEntry struct {
	ContextInfo
	gen uint32
}

type serverKey struct {
	serviceID uint8
	rloc16    link.ShortAddress
}

type serverEntry struct {
	Server
	gen uint32
}

// CommissioningData is the cached Commissioning Data TLV.
type CommissioningData struct {
	SessionID          uint16
	BorderAgentLocator link.ShortAddress
	SteeringData       []byte
	JoinerUDPPort      uint16
	Raw                []byte
}

// Snapshot is a copy of the effective network data state.
type Snapshot struct {
	Leader        LeaderData
	Activated     bool
	Contexts      []ContextInfo
	Prefixes      []PrefixInfo
	Servers       []Server
	Commissioning *CommissioningData
}

// Synchronizer holds the received network data blob and the state derived
// from it.
//
// It is safe for concurrent use. Readers never observe a half-applied
// activation.
type Synchronizer struct {
	mu sync.RWMutex

	id          link.InterfaceID
	log         logging.LeveledLogger
	effects     AddressEffects
	stableOnly  bool
	iidSecret   []byte
	networkName string

	attachReady   bool
	localRouterID uint8

	haveData bool
	leader   LeaderData
	blob     []byte

	gen           uint32
	activated     bool
	routes        bart.Table[*prefixEntry]
	prefixes      map[netip.Prefix]*prefixEntry
	contexts      [NumContexts]*contextEntry
	servers       map[serverKey]*serverEntry
	commissioning *CommissioningData
	commGen       uint32
	allocQueue    []netip.Prefix
}

// NewSynchronizer creates an empty Synchronizer.
func NewSynchronizer(config Config) *Synchronizer {
	s := &Synchronizer{
		id:            config.Interface,
		effects:       config.Effects,
		stableOnly:    config.StableOnly,
		iidSecret:     config.IIDSecret,
		networkName:   config.NetworkName,
		localRouterID: InvalidRouterID,
		prefixes:      make(map[netip.Prefix]*prefixEntry),
		servers:       make(map[serverKey]*serverEntry),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("netdata")
	}
	if s.iidSecret == nil {
		s.iidSecret = make([]byte, 16)
		_, _ = io.ReadFull(rand.Reader, s.iidSecret)
	}
	return s
}

// SetAttachReady gates Save. The bootstrap engine sets it once the
// interface has attached.
func (s *Synchronizer) SetAttachReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachReady = ready
}

// SetLocalRouterID records this node's router ID, or InvalidRouterID.
// A node whose router ID equals the leader's allocates missing contexts.
func (s *Synchronizer) SetLocalRouterID(id uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localRouterID = id
}

// SetNetworkName updates the name mixed into SLAAC identifiers.
func (s *Synchronizer) SetNetworkName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkName = name
}

// Leader returns the stored leader data.
func (s *Synchronizer) Leader() (LeaderData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader, s.haveData
}

// SetLeader installs leader data with empty network data, as when this node
// forms a partition.
func (s *Synchronizer) SetLeader(ld LeaderData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = ld
	s.blob = nil
	s.haveData = true
}

// Save validates blob and stores it with leader. Stored data is replaced
// only when the partition changed or a data version moved forward. The
// effective state is untouched until Activate.
func (s *Synchronizer) Save(leader LeaderData, blob []byte) (Changed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attachReady {
		return Changed{}, ErrNotReady
	}
	if err := validate(blob); err != nil {
		if s.log != nil {
			s.log.Warnf("%s rejecting network data: %v", s.id, err)
		}
		return Changed{}, err
	}

	var ch Changed
	if !s.haveData || leader.PartitionID != s.leader.PartitionID {
		ch = Changed{Stable: true, Unstable: true}
	} else {
		ch.Stable = SerialGreater(leader.StableDataVersion, s.leader.StableDataVersion)
		ch.Unstable = SerialGreater(leader.DataVersion, s.leader.DataVersion)
		if !ch.Any() {
			return ch, nil
		}
	}

	s.leader = leader
	s.blob = bytes.Clone(blob)
	s.haveData = true

	if s.log != nil {
		s.log.Debugf("%s saved network data %s (%d bytes)", s.id, leader, len(blob))
	}
	return ch, nil
}

// Activate applies the stored blob. Entries missing from it are purged after
// the walk. Malformed sub-TLVs abort only their own parse.
func (s *Synchronizer) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attachReady {
		return ErrNotReady
	}
	if !s.haveData {
		return nil
	}

	s.gen++
	c := tlv.NewCursor(s.blob)
	for !c.Done() {
		e, err := c.Next()
		if err != nil {
			if s.log != nil {
				s.log.Warnf("%s network data walk stopped: %v", s.id, err)
			}
			break
		}
		t, stable := splitType(e.Type)
		if s.stableOnly && !stable {
			continue
		}
		switch t {
		case TypePrefix:
			s.activatePrefix(e.Value, stable)
		case TypeService:
			s.activateService(e.Value, stable)
		case TypeCommissioningData:
			s.activateCommissioning(e.Value)
		default:
			if s.log != nil {
				s.log.Debugf("%s skipping %s TLV", s.id, t)
			}
		}
	}
	for _, pfx := range s.allocQueue {
		s.allocateContext(pfx)
	}
	s.allocQueue = s.allocQueue[:0]
	s.purge()
	s.activated = true
	return nil
}

func (s *Synchronizer) activatePrefix(v []byte, stable bool) {
	h, sub, err := splitPrefix(v)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("%s skipping prefix: %v", s.id, err)
		}
		return
	}

	var brs []BorderRouter
	var routes []ExternalRoute
	var ctx *ContextInfo

	c := tlv.NewCursor(sub)
	for !c.Done() {
		e, err := c.Next()
		if err != nil {
			if s.log != nil {
				s.log.Warnf("%s prefix %s sub-parse aborted: %v", s.id, h.prefix, err)
			}
			break
		}
		t, subStable := splitType(e.Type)
		if s.stableOnly && !subStable {
			continue
		}
		switch t {
		case TypeBorderRouter:
			if len(e.Value)%4 != 0 {
				s.logSkip(h.prefix, t)
				continue
			}
			for i := 0; i < len(e.Value); i += 4 {
				brs = append(brs, BorderRouter{
					RLOC16: link.ShortAddress(binary.BigEndian.Uint16(e.Value[i:])),
					Flags:  binary.BigEndian.Uint16(e.Value[i+2:]),
					Stable: subStable,
				})
			}
		case TypeHasRoute:
			if len(e.Value)%3 != 0 {
				s.logSkip(h.prefix, t)
				continue
			}
			for i := 0; i < len(e.Value); i += 3 {
				flags := e.Value[i+2]
				routes = append(routes, ExternalRoute{
					RLOC16:     link.ShortAddress(binary.BigEndian.Uint16(e.Value[i:])),
					Preference: decodePreference(flags >> 6),
					NAT64:      flags&0x20 != 0,
					Stable:     subStable,
				})
			}
		case TypeContext:
			if len(e.Value) != 2 || e.Value[1] > 128 {
				s.logSkip(h.prefix, t)
				continue
			}
			ctx = &ContextInfo{
				ID:       e.Value[0] & 0x0F,
				Prefix:   netip.PrefixFrom(h.prefix.Addr(), int(e.Value[1])).Masked(),
				Compress: e.Value[0]&0x10 != 0,
				Stable:   subStable,
			}
		default:
			s.logSkip(h.prefix, t)
		}
	}

	entry, exists := s.prefixes[h.prefix]
	if !exists {
		entry = &prefixEntry{PrefixInfo: PrefixInfo{Prefix: h.prefix, DHCPServer: link.ShortAddressInvalid}}
		s.prefixes[h.prefix] = entry
	}
	entry.gen = s.gen
	entry.DomainID = h.domainID
	entry.Stable = stable
	entry.BorderRouters = brs
	entry.Routes = routes

	if entry.OnMesh() || len(routes) > 0 {
		s.routes.Insert(h.prefix, entry)
	} else {
		s.routes.Delete(h.prefix)
	}

	if ctx != nil {
		s.refreshContext(*ctx)
	} else if entry.OnMesh() && s.isLeader() {
		s.allocQueue = append(s.allocQueue, h.prefix)
	}

	s.applyAddressEffects(entry)
}

func (s *Synchronizer) logSkip(prefix netip.Prefix, t TLVType) {
	if s.log != nil {
		s.log.Debugf("%s prefix %s: skipping %s sub-TLV", s.id, prefix, t)
	}
}

func (s *Synchronizer) isLeader() bool {
	return s.localRouterID != InvalidRouterID && s.localRouterID == s.leader.LeaderRouterID
}

// applyAddressEffects requests address changes for entry, only on change.
func (s *Synchronizer) applyAddressEffects(entry *prefixEntry) {
	wantSLAAC := false
	dhcp := link.ShortAddressInvalid
	for _, br := range entry.BorderRouters {
		if br.Has(FlagOnMesh) && br.Has(FlagSLAAC) && entry.Prefix.Bits() == 64 {
			wantSLAAC = true
		}
		if br.Has(FlagDHCP) && (dhcp == link.ShortAddressInvalid || br.RLOC16 < dhcp) {
			dhcp = br.RLOC16
		}
	}

	hadSLAAC := entry.SLAAC.IsValid()
	switch {
	case wantSLAAC && !hadSLAAC:
		addr, ok := s.slaacAddress(entry.Prefix)
		if ok {
			entry.SLAAC = addr
			if s.effects != nil {
				s.effects.AddSLAAC(entry.Prefix, addr)
			}
		}
	case !wantSLAAC && hadSLAAC:
		entry.SLAAC = netip.Addr{}
		if s.effects != nil && dhcp == link.ShortAddressInvalid {
			s.effects.RemoveAddress(entry.Prefix)
		}
	}

	if dhcp != entry.DHCPServer {
		had := entry.DHCPServer != link.ShortAddressInvalid
		entry.DHCPServer = dhcp
		if s.effects != nil {
			if dhcp != link.ShortAddressInvalid {
				s.effects.RequestDHCP(entry.Prefix, dhcp)
			} else if had && !entry.SLAAC.IsValid() {
				s.effects.RemoveAddress(entry.Prefix)
			}
		}
	}
}

func (s *Synchronizer) slaacAddress(prefix netip.Prefix) (netip.Addr, bool) {
	raw := prefix.Addr().As16()
	iid, err := crypto.StableIID(s.iidSecret, raw[:8], s.networkName, 0)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("%s SLAAC IID for %s: %v", s.id, prefix, err)
		}
		return netip.Addr{}, false
	}
	copy(raw[8:], iid[:])
	return netip.AddrFrom16(raw), true
}

func (s *Synchronizer) refreshContext(ctx ContextInfo) {
	cur := s.contexts[ctx.ID]
	if cur == nil || cur.ContextInfo != ctx {
		if s.log != nil {
			s.log.Debugf("%s context %d -> %s", s.id, ctx.ID, ctx.Prefix)
		}
		s.contexts[ctx.ID] = &contextEntry{ContextInfo: ctx}
	}
	s.contexts[ctx.ID].gen = s.gen
}

// allocateContext assigns the lowest context ID in 1..15 not refreshed by
// the current walk to prefix, reusing a previous local allocation for the
// same prefix. It runs after the walk so advertised contexts take precedence.
func (s *Synchronizer) allocateContext(prefix netip.Prefix) {
	for _, c := range s.contexts {
		if c != nil && c.Local && c.Prefix == prefix {
			c.gen = s.gen
			return
		}
	}
	for id := 1; id < NumContexts; id++ {
		if c := s.contexts[id]; c == nil || c.gen != s.gen {
			s.contexts[id] = &contextEntry{
				ContextInfo: ContextInfo{ID: uint8(id), Prefix: prefix, Compress: true, Stable: true, Local: true},
				gen:         s.gen,
			}
			if s.log != nil {
				s.log.Infof("%s allocated context %d for %s", s.id, id, prefix)
			}
			return
		}
	}
	if s.log != nil {
		s.log.Warnf("%s %v for %s", s.id, ErrNoContext, prefix)
	}
}

func (s *Synchronizer) activateService(v []byte, stable bool) {
	h, sub, err := splitService(v)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("%s skipping service: %v", s.id, err)
		}
		return
	}

	c := tlv.NewCursor(sub)
	for !c.Done() {
		e, err := c.Next()
		if err != nil {
			if s.log != nil {
				s.log.Warnf("%s service %d sub-parse aborted: %v", s.id, h.id, err)
			}
			return
		}
		t, subStable := splitType(e.Type)
		if t != TypeServer || len(e.Value) < 2 || (s.stableOnly && !subStable) {
			continue
		}
		srv := Server{
			ServiceID:   h.id,
			Enterprise:  h.enterprise,
			ServiceData: bytes.Clone(h.data),
			RLOC16:      link.ShortAddress(binary.BigEndian.Uint16(e.Value)),
			ServerData:  bytes.Clone(e.Value[2:]),
			Stable:      stable && subStable,
		}
		key := serverKey{serviceID: h.id, rloc16: srv.RLOC16}
		s.servers[key] = &serverEntry{Server: srv, gen: s.gen}
	}
}

func (s *Synchronizer) activateCommissioning(v []byte) {
	cd := &CommissioningData{Raw: bytes.Clone(v), BorderAgentLocator: link.ShortAddressInvalid}
	_ = tlv.Each(v, func(e tlv.TLV) error {
		switch e.Type {
		case dataset.TypeCommissionerSessionID:
			if len(e.Value) == 2 {
				cd.SessionID = binary.BigEndian.Uint16(e.Value)
			}
		case dataset.TypeBorderAgentLocator:
			if len(e.Value) == 2 {
				cd.BorderAgentLocator = link.ShortAddress(binary.BigEndian.Uint16(e.Value))
			}
		case dataset.TypeSteeringData:
			cd.SteeringData = bytes.Clone(e.Value)
		case dataset.TypeJoinerUDPPort:
			if len(e.Value) == 2 {
				cd.JoinerUDPPort = binary.BigEndian.Uint16(e.Value)
			}
		}
		return nil
	})
	s.commissioning = cd
	s.commGen = s.gen
}

// purge drops every entry not refreshed in the current generation.
func (s *Synchronizer) purge() {
	for pfx, entry := range s.prefixes {
		if entry.gen == s.gen {
			continue
		}
		s.routes.Delete(pfx)
		delete(s.prefixes, pfx)
		if s.effects != nil && (entry.SLAAC.IsValid() || entry.DHCPServer != link.ShortAddressInvalid) {
			s.effects.RemoveAddress(pfx)
		}
	}
	for i, c := range s.contexts {
		if c != nil && c.gen != s.gen {
			s.contexts[i] = nil
		}
	}
	for key, srv := range s.servers {
		if srv.gen != s.gen {
			delete(s.servers, key)
		}
	}
	if s.commissioning != nil && s.commGen != s.gen {
		s.commissioning = nil
	}
}

// Reset drops stored and effective network data and clears attach-ready.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.purge()
	s.haveData = false
	s.blob = nil
	s.leader = LeaderData{}
	s.activated = false
	s.attachReady = false
	s.localRouterID = InvalidRouterID
}

// Lookup returns the longest on-mesh prefix or external route covering addr.
func (s *Synchronizer) Lookup(addr netip.Addr) (PrefixInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.routes.Lookup(addr)
	if !ok || entry == nil {
		return PrefixInfo{}, false
	}
	return clonePrefix(entry.PrefixInfo), true
}

// Context returns the 6LoWPAN context with the given ID.
func (s *Synchronizer) Context(id uint8) (ContextInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(id) >= NumContexts || s.contexts[id] == nil {
		return ContextInfo{}, false
	}
	return s.contexts[id].ContextInfo, true
}

// Commissioning returns the cached commissioning data.
func (s *Synchronizer) Commissioning() (CommissioningData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.commissioning == nil {
		return CommissioningData{}, false
	}
	return *s.commissioning, true
}

// Snapshot returns a copy of the effective state in a stable order.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Leader: s.leader, Activated: s.activated}
	for _, c := range s.contexts {
		if c != nil {
			snap.Contexts = append(snap.Contexts, c.ContextInfo)
		}
	}
	for _, entry := range s.prefixes {
		snap.Prefixes = append(snap.Prefixes, clonePrefix(entry.PrefixInfo))
	}
	slices.SortFunc(snap.Prefixes, func(a, b PrefixInfo) int {
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return cmp.Compare(a.Prefix.Bits(), b.Prefix.Bits())
	})
	for _, srv := range s.servers {
		snap.Servers = append(snap.Servers, srv.Server)
	}
	slices.SortFunc(snap.Servers, func(a, b Server) int {
		if c := cmp.Compare(a.ServiceID, b.ServiceID); c != 0 {
			return c
		}
		return cmp.Compare(a.RLOC16, b.RLOC16)
	})
	if s.commissioning != nil {
		cd := *s.commissioning
		snap.Commissioning = &cd
	}
	return snap
}

func clonePrefix(p PrefixInfo) PrefixInfo {
	p.BorderRouters = slices.Clone(p.BorderRouters)
	p.Routes = slices.Clone(p.Routes)
	return p
}
