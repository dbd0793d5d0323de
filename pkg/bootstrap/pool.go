package bootstrap

import "github.com/backkem/thread/pkg/discovery"

// MaxDiscoveredNetworks bounds the scan results held per interface.
const MaxDiscoveredNetworks = 8

type poolHandle uint8

// networkPool holds scan results until they are selected or rejected.
type networkPool struct {
	entries [MaxDiscoveredNetworks]discovery.Network
	used    [MaxDiscoveredNetworks]bool
}

// alloc copies n into a free slot.
func (p *networkPool) alloc(n discovery.Network) (poolHandle, bool) {
	for i := range p.used {
		if !p.used[i] {
			n.SteeringData = append([]byte(nil), n.SteeringData...)
			p.entries[i] = n
			p.used[i] = true
			return poolHandle(i), true
		}
	}
	return 0, false
}

func (p *networkPool) get(h poolHandle) (*discovery.Network, bool) {
	if int(h) >= len(p.used) || !p.used[h] {
		return nil, false
	}
	return &p.entries[h], true
}

func (p *networkPool) free(h poolHandle) {
	if int(h) < len(p.used) {
		p.used[h] = false
		p.entries[h] = discovery.Network{}
	}
}

func (p *networkPool) freeAll() {
	for i := range p.used {
		p.free(poolHandle(i))
	}
}

func (p *networkPool) count() int {
	n := 0
	for _, u := range p.used {
		if u {
			n++
		}
	}
	return n
}

// handles returns the allocated handles in slot order.
func (p *networkPool) handles() []poolHandle {
	var out []poolHandle
	for i, u := range p.used {
		if u {
			out = append(out, poolHandle(i))
		}
	}
	return out
}
