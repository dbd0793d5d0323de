package thread

import (
	"fmt"
	"net"
	"sync"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/management"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/transport"
	"github.com/pion/logging"
)

// port is the network attachment of one interface.
type port struct {
	id        link.InterfaceID
	udp       *transport.UDP
	svc       *messaging.Service
	mgmt      *management.Server
	broadcast net.Addr
	parent    *parentTable
}

type localHandle struct {
	id link.InterfaceID
	h  messaging.Handle
}

type outbound struct {
	local localHandle
	kind  bootstrap.RequestKind
	peer  link.ExtAddress
	dest  net.Addr
}

// linkMux implements bootstrap.Messenger on top of one messaging service
// per interface. Handles given to the engine are unique across interfaces.
//
// Lock order: the engine's dispatch lock, then mu. Nothing calls into the
// engine while holding mu.
type linkMux struct {
	log      logging.LeveledLogger
	datasets *dataset.Registry
	engine   *bootstrap.Engine

	mu        sync.Mutex
	ports     map[link.InterfaceID]*port
	next      messaging.Handle
	out       map[messaging.Handle]outbound
	byLocal   map[localHandle]messaging.Handle
	neighbors map[link.InterfaceID]map[link.ExtAddress]net.Addr
}

func newLinkMux(datasets *dataset.Registry, lf logging.LoggerFactory) *linkMux {
	m := &linkMux{
		datasets:  datasets,
		ports:     make(map[link.InterfaceID]*port),
		out:       make(map[messaging.Handle]outbound),
		byLocal:   make(map[localHandle]messaging.Handle),
		neighbors: make(map[link.InterfaceID]map[link.ExtAddress]net.Addr),
	}
	if lf != nil {
		m.log = lf.NewLogger("link")
	}
	return m
}

func (m *linkMux) addPort(p *port) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ports[p.id] = p
	m.neighbors[p.id] = make(map[link.ExtAddress]net.Addr)
}

func (m *linkMux) removePort(id link.InterfaceID) *port {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.ports[id]
	delete(m.ports, id)
	delete(m.neighbors, id)
	for g, o := range m.out {
		if o.local.id == id {
			delete(m.out, g)
			delete(m.byLocal, o.local)
		}
	}
	return p
}

func (m *linkMux) port(id link.InterfaceID) (*port, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ports[id]
	return p, ok
}

// self returns the extended address the interface uses on the network.
func (m *linkMux) self(id link.InterfaceID) link.ExtAddress {
	in, ok := m.datasets.Get(id)
	if !ok {
		return link.ExtAddress{}
	}
	return in.Identity().ExtAddress
}

// learn records where a neighbor was last heard from.
func (m *linkMux) learn(id link.InterfaceID, ext link.ExtAddress, addr net.Addr) {
	if ext.IsZero() || addr == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tbl, ok := m.neighbors[id]; ok {
		tbl[ext] = addr
	}
}

func (m *linkMux) neighbor(id link.InterfaceID, ext link.ExtAddress) (net.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.neighbors[id][ext]
	return addr, ok
}

// resetNeighbors forgets every learned neighbor.
func (m *linkMux) resetNeighbors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.neighbors {
		m.neighbors[id] = make(map[link.ExtAddress]net.Addr)
	}
}

// Send implements bootstrap.Messenger.
func (m *linkMux) Send(req bootstrap.Request, timeout messaging.TimeoutParams, retry messaging.RetryPolicy) (messaging.Handle, error) {
	self := m.self(req.Interface)

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.ports[req.Interface]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInterface, req.Interface)
	}
	msg, dest, err := m.encodeLocked(p, self, req)
	if err != nil {
		return 0, err
	}

	// mu stays held across Send so a fast response cannot look up the
	// handle before it is recorded.
	h, err := p.svc.Send(msg, dest, timeout, retry)
	if err != nil {
		return 0, err
	}
	if req.Kind == bootstrap.RequestAnnounce {
		_ = p.svc.Cancel(h)
		return 0, nil
	}

	m.next++
	g := m.next
	local := localHandle{id: p.id, h: h}
	m.out[g] = outbound{local: local, kind: req.Kind, peer: req.Peer, dest: dest}
	m.byLocal[local] = g
	if m.log != nil {
		m.log.Debugf("%s %s to %s via %v handle=%d", p.id, req.Kind, req.Peer, dest, g)
	}
	return g, nil
}

func (m *linkMux) encodeLocked(p *port, self link.ExtAddress, req bootstrap.Request) (*messaging.Message, net.Addr, error) {
	msg := &messaging.Message{Code: messaging.POST}
	lr := LinkRequest{Source: self, Mode: req.Mode, ShortAddress: req.ShortAddress}

	switch req.Kind {
	case bootstrap.RequestLinkSync:
		msg.Path = PathLinkSync
	case bootstrap.RequestChildID:
		msg.Path = PathChildID
		if n := req.Network; n != nil && n.Agent != nil {
			m.neighbors[p.id][req.Peer] = n.Agent
		}
	case bootstrap.RequestRouterID:
		msg.Path = PathRouterID
	case bootstrap.RequestRouterRelease:
		msg.Path = PathRouterRelease
	case bootstrap.RequestAnnounce:
		a := req.Announcement
		if a == nil {
			return nil, nil, fmt.Errorf("%w: announce without content", ErrMalformed)
		}
		if p.broadcast == nil {
			return nil, nil, ErrNoRoute
		}
		msg.Path = PathAnnounce
		msg.Payload = Announce{
			Source:          self,
			Channel:         a.Channel,
			Page:            a.Page,
			PanID:           a.PanID,
			ActiveTimestamp: a.ActiveTimestamp,
		}.Encode()
		return msg, p.broadcast, nil
	default:
		return nil, nil, fmt.Errorf("thread: unsupported request %s", req.Kind)
	}
	msg.Payload = lr.Encode()

	if dest, ok := m.neighbors[p.id][req.Peer]; ok {
		return msg, dest, nil
	}
	if p.broadcast != nil {
		return msg, p.broadcast, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNoRoute, req.Peer)
}

// Cancel implements bootstrap.Messenger.
func (m *linkMux) Cancel(g messaging.Handle) error {
	m.mu.Lock()
	o, ok := m.out[g]
	if ok {
		delete(m.out, g)
		delete(m.byLocal, o.local)
	}
	p := m.ports[o.local.id]
	m.mu.Unlock()

	if !ok || p == nil {
		return messaging.ErrUnknownHandle
	}
	return p.svc.Cancel(o.local.h)
}

// take resolves and forgets a service-local handle.
func (m *linkMux) take(local localHandle) (messaging.Handle, outbound, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byLocal[local]
	if !ok {
		return 0, outbound{}, false
	}
	o := m.out[g]
	delete(m.byLocal, local)
	delete(m.out, g)
	return g, o, true
}

// onTimeout returns the messaging.Config.OnTimeout callback of interface id.
func (m *linkMux) onTimeout(id link.InterfaceID) func(messaging.Handle, bool) {
	return func(h messaging.Handle, usedAllRetries bool) {
		g, o, ok := m.take(localHandle{id: id, h: h})
		if !ok {
			return
		}
		if m.log != nil {
			m.log.Debugf("%s %s to %s timed out (all retries: %v)", id, o.kind, o.peer, usedAllRetries)
		}
		m.fail(id, g, usedAllRetries)
	}
}

// onResponse returns the messaging.Config.OnResponse callback of interface id.
func (m *linkMux) onResponse(id link.InterfaceID) func(messaging.Handle, *messaging.Message) {
	return func(h messaging.Handle, resp *messaging.Message) {
		g, o, ok := m.take(localHandle{id: id, h: h})
		if !ok {
			return
		}
		if resp.Code.IsSecurityRefusal() {
			m.reject(id, g, o.peer, "refused with "+resp.Code.String())
			return
		}
		if !resp.Code.IsSuccess() {
			if m.log != nil {
				m.log.Debugf("%s %s refused by %s: %s", id, o.kind, o.peer, resp.Code)
			}
			m.fail(id, g, false)
			return
		}

		switch o.kind {
		case bootstrap.RequestChildID:
			r, err := DecodeChildIDResponse(resp.Payload)
			if err != nil {
				if m.log != nil {
					m.log.Warnf("%s child id response from %s: %v", id, o.peer, err)
				}
				m.reject(id, g, o.peer, "invalid child id response")
				return
			}
			m.learn(id, r.Parent, o.dest)
			m.post(id, r.Event())
		case bootstrap.RequestLinkSync:
			m.post(id, bootstrap.ChildUpdate{})
		case bootstrap.RequestRouterID:
			if rid, ok := DecodeRouterIDResponse(resp.Payload); ok {
				m.post(id, bootstrap.ActiveRouterAttach{RouterID: rid})
			} else {
				m.post(id, bootstrap.RouterIdGetFailed{})
			}
		}
	}
}

// fail reports a request that will get no usable answer. The event is
// posted rather than routed through Engine.OnTimeout so that a rejection
// arriving before the engine records the handle is not lost.
func (m *linkMux) fail(id link.InterfaceID, g messaging.Handle, usedAllRetries bool) {
	m.post(id, bootstrap.ConnectionError{Handle: g, UsedAllRetries: usedAllRetries})
}

// reject reports a peer that failed security validation; the engine
// blacklists it.
func (m *linkMux) reject(id link.InterfaceID, g messaging.Handle, peer link.ExtAddress, reason string) {
	m.post(id, bootstrap.SecurityRejected{Handle: g, Peer: peer, Reason: reason})
}

func (m *linkMux) post(id link.InterfaceID, ev bootstrap.Event) {
	if m.engine == nil {
		return
	}
	if err := m.engine.OnEvent(id, ev); err != nil && m.log != nil {
		m.log.Debugf("%s drop %T: %v", id, ev, err)
	}
}

// broadcastTo sends a fire and forget request to every node on the
// interface's link.
func (m *linkMux) broadcastTo(id link.InterfaceID, path string, payload []byte) error {
	m.mu.Lock()
	p, ok := m.ports[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	if p.broadcast == nil {
		return ErrNoRoute
	}
	msg := &messaging.Message{Code: messaging.POST, Path: path, Payload: payload}
	h, err := p.svc.Send(msg, p.broadcast, messaging.DefaultTimeoutParams(), messaging.RetryPolicy{MaxTransmissions: 1})
	if err != nil {
		return err
	}
	_ = p.svc.Cancel(h)
	return nil
}

// pending returns the number of tracked requests.
func (m *linkMux) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.out)
}

var _ bootstrap.Messenger = (*linkMux)(nil)
