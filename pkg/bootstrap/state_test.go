package bootstrap

import (
	"testing"

	"github.com/backkem/thread/pkg/discovery"
)

func TestRole_Downgrade(t *testing.T) {
	tests := []struct {
		in, want Role
	}{
		{RoleLeader, RoleREED},
		{RoleRouter, RoleREED},
		{RoleREED, RoleEndDevice},
		{RoleEndDevice, RoleEndDevice},
	}
	for _, tt := range tests {
		if got := tt.in.downgrade(); got != tt.want {
			t.Errorf("%s.downgrade() = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestState_Attached(t *testing.T) {
	for s := StateDisabled; s <= StateNewPartitionFragment; s++ {
		want := s == StateBootstrapDone || s == StateLeaderUp
		if got := s.Attached(); got != want {
			t.Errorf("%s.Attached() = %v, want %v", s, got, want)
		}
	}
}

func TestNetworkPool(t *testing.T) {
	var p networkPool
	for i := range MaxDiscoveredNetworks {
		if _, ok := p.alloc(discovery.Network{RSSI: int8(-i)}); !ok {
			t.Fatalf("alloc %d failed", i)
		}
	}
	if _, ok := p.alloc(discovery.Network{}); ok {
		t.Error("alloc() on a full pool succeeded")
	}

	p.free(3)
	if got := p.count(); got != MaxDiscoveredNetworks-1 {
		t.Errorf("count() = %d, want %d", got, MaxDiscoveredNetworks-1)
	}
	if _, ok := p.get(3); ok {
		t.Error("get() on a freed handle succeeded")
	}
	h, ok := p.alloc(discovery.Network{RSSI: 42})
	if !ok || h != 3 {
		t.Errorf("alloc() = %d, %v, want the freed slot 3", h, ok)
	}

	p.freeAll()
	if got := len(p.handles()); got != 0 {
		t.Errorf("handles() after freeAll = %d entries", got)
	}
}
