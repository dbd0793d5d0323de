package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// StaticResolver answers Browse from a fixed set of entries. It stands in
// for multicast DNS in tests and in closed lab setups.
type StaticResolver struct {
	mu      sync.RWMutex
	entries []*zeroconf.ServiceEntry
}

// NewStaticResolver returns a resolver serving entries.
func NewStaticResolver(entries ...*zeroconf.ServiceEntry) *StaticResolver {
	return &StaticResolver{entries: entries}
}

// Add serves e from now on, under e.Service.
func (r *StaticResolver) Add(e *zeroconf.ServiceEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Reset forgets every entry.
func (r *StaticResolver) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// Browse sends the entries registered for service, then returns.
func (r *StaticResolver) Browse(ctx context.Context, service, _ string, out chan<- *zeroconf.ServiceEntry) error {
	r.mu.RLock()
	var match []*zeroconf.ServiceEntry
	for _, e := range r.entries {
		if e.Service == service {
			match = append(match, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range match {
		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// BorderAgentEntry builds the _meshcop._udp entry a border agent publishing
// txt on port would answer with.
func BorderAgentEntry(txt MeshCoPTXT, port int, ips ...net.IP) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(InstanceName(&txt), ServiceMeshCoP, DefaultDomain)
	e.HostName = e.Instance + ".local."
	e.Port = port
	e.Text = txt.Encode()
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			e.AddrIPv4 = append(e.AddrIPv4, v4)
			continue
		}
		e.AddrIPv6 = append(e.AddrIPv6, ip)
	}
	return e
}

var _ MDNSResolver = (*StaticResolver)(nil)
