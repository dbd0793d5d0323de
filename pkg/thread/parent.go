package thread

import (
	"net"
	"sync"

	"github.com/backkem/thread/pkg/bootstrap"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/netdata"
)

// maxChildID is the largest child id in an RLOC16.
const maxChildID = 0x1FF

// parentTable tracks the children attached through an interface and, while
// it leads the partition, the router ids it handed out.
type parentTable struct {
	mu        sync.Mutex
	children  map[link.ExtAddress]uint16
	nextChild uint16
	routers   map[link.ExtAddress]uint8
}

func newParentTable() *parentTable {
	return &parentTable{
		children: make(map[link.ExtAddress]uint16),
		routers:  make(map[link.ExtAddress]uint8),
	}
}

// child returns the child id of ext, allocating one if needed.
func (t *parentTable) child(ext link.ExtAddress) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.children[ext]; ok {
		return id, true
	}
	if len(t.children) >= maxChildID {
		return 0, false
	}
	for {
		t.nextChild = t.nextChild%maxChildID + 1
		if !t.hasChildLocked(t.nextChild) {
			break
		}
	}
	t.children[ext] = t.nextChild
	return t.nextChild, true
}

func (t *parentTable) hasChildLocked(id uint16) bool {
	for _, c := range t.children {
		if c == id {
			return true
		}
	}
	return false
}

func (t *parentTable) isChild(ext link.ExtAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.children[ext]
	return ok
}

// routerID returns the router id of ext, allocating the lowest free id that
// is not the leader's own. added is set when the id is new.
func (t *parentTable) routerID(ext link.ExtAddress, leader uint8) (id uint8, added, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.routers[ext]; ok {
		return id, false, true
	}
	used := map[uint8]bool{leader: true}
	for _, id := range t.routers {
		used[id] = true
	}
	for id := uint8(0); id < netdata.InvalidRouterID; id++ {
		if !used[id] {
			t.routers[ext] = id
			delete(t.children, ext)
			return id, true, true
		}
	}
	return 0, false, false
}

func (t *parentTable) releaseRouter(ext link.ExtAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.routers[ext]
	delete(t.routers, ext)
	return ok
}

func (t *parentTable) counts() (children, routers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.children), len(t.routers)
}

func (t *parentTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.children)
	clear(t.routers)
}

// register installs the link protocol handlers of p.
func (m *linkMux) register(p *port) {
	p.svc.Handle(PathChildID, m.handleChildID(p))
	p.svc.Handle(PathLinkSync, m.handleLinkSync(p))
	p.svc.Handle(PathRouterID, m.handleRouterID(p))
	p.svc.Handle(PathRouterRelease, m.handleRouterRelease(p))
	p.svc.Handle(PathAnnounce, m.handleAnnounce(p))
	p.svc.Handle(PathLeaderData, m.handleLeaderData(p))
}

func (m *linkMux) status(id link.InterfaceID) (bootstrap.Status, bool) {
	if m.engine == nil {
		return bootstrap.Status{}, false
	}
	return m.engine.Status(id)
}

func (m *linkMux) handleChildID(p *port) messaging.HandlerFunc {
	return func(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
		lr, err := DecodeLinkRequest(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		m.learn(p.id, lr.Source, from)

		st, ok := m.status(p.id)
		if !ok || !st.State.Attached() {
			return messaging.NotFound, nil
		}
		if st.Role < bootstrap.RoleRouter {
			// A REED answers nothing but may become a router for the next try.
			m.post(p.id, bootstrap.ChildIdRequestReceived{Child: lr.Source})
			return messaging.NotFound, nil
		}

		cid, ok := p.parent.child(lr.Source)
		if !ok {
			return messaging.InternalServerError, nil
		}
		resp := ChildIDResponse{
			Parent:       m.self(p.id),
			ParentShort:  st.ShortAddress,
			ShortAddress: st.ShortAddress | link.ShortAddress(cid),
			LeaderData:   st.LeaderData,
			RouterCount:  st.RouterCount,
		}
		if in, ok := m.datasets.Get(p.id); ok {
			if active, err := in.Get(dataset.KindActive, nil, nil); err == nil {
				resp.ActiveDataset = active
			}
		}
		if m.log != nil {
			m.log.Infof("%s child %s attached as %s", p.id, lr.Source, resp.ShortAddress)
		}
		return messaging.Changed, resp.Encode()
	}
}

func (m *linkMux) handleLinkSync(p *port) messaging.HandlerFunc {
	return func(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
		lr, err := DecodeLinkRequest(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		st, ok := m.status(p.id)
		if !ok || st.Role < bootstrap.RoleRouter || !p.parent.isChild(lr.Source) {
			return messaging.NotFound, nil
		}
		m.learn(p.id, lr.Source, from)
		return messaging.Changed, nil
	}
}

func (m *linkMux) handleRouterID(p *port) messaging.HandlerFunc {
	return func(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
		lr, err := DecodeLinkRequest(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		m.learn(p.id, lr.Source, from)

		st, ok := m.status(p.id)
		if !ok || st.Role != bootstrap.RoleLeader {
			return messaging.Changed, EncodeRouterIDResponse(netdata.InvalidRouterID)
		}
		rid, added, ok := p.parent.routerID(lr.Source, st.LeaderData.LeaderRouterID)
		if !ok {
			return messaging.Changed, EncodeRouterIDResponse(netdata.InvalidRouterID)
		}
		if added {
			if m.log != nil {
				m.log.Infof("%s router id %d to %s", p.id, rid, lr.Source)
			}
			m.post(p.id, bootstrap.RouterAdded{Router: lr.Source})
		}
		return messaging.Changed, EncodeRouterIDResponse(rid)
	}
}

func (m *linkMux) handleRouterRelease(p *port) messaging.HandlerFunc {
	return func(req *messaging.Message, _ net.Addr) (messaging.Code, []byte) {
		lr, err := DecodeLinkRequest(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		if !p.parent.releaseRouter(lr.Source) {
			return messaging.NotFound, nil
		}
		m.post(p.id, bootstrap.RouterRemoved{Router: lr.Source})
		return messaging.Changed, nil
	}
}

func (m *linkMux) handleAnnounce(p *port) messaging.HandlerFunc {
	return func(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
		a, err := DecodeAnnounce(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		if a.Source == m.self(p.id) {
			return messaging.Changed, nil
		}
		m.learn(p.id, a.Source, from)
		m.post(p.id, bootstrap.AnnounceActive{
			Channel:         a.Channel,
			Page:            a.Page,
			PanID:           a.PanID,
			ActiveTimestamp: a.ActiveTimestamp,
		})
		return messaging.Changed, nil
	}
}

func (m *linkMux) handleLeaderData(p *port) messaging.HandlerFunc {
	return func(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
		adv, err := DecodeLeaderAdvertisement(req.Payload)
		if err != nil {
			return messaging.BadRequest, nil
		}
		if adv.Source == m.self(p.id) {
			return messaging.Changed, nil
		}
		m.learn(p.id, adv.Source, from)
		m.post(p.id, bootstrap.LeaderDataHeard{LeaderData: adv.LeaderData, RouterCount: adv.RouterCount})
		return messaging.Changed, nil
	}
}
