package dataset

import (
	"crypto/rand"
	"io"
	"net/netip"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
)

// DeviceIdentity is the addressing identity of an interface.
type DeviceIdentity struct {
	// EUI64 is the factory-assigned IEEE EUI-64.
	EUI64 link.ExtAddress

	// ExtAddress is the random extended MAC address used on the network.
	ExtAddress link.ExtAddress

	// MeshLocalIID is the interface identifier of the mesh-local EID.
	MeshLocalIID [8]byte
}

// NewDeviceIdentity generates a random extended address and mesh-local IID.
// A nil r uses crypto/rand.
func NewDeviceIdentity(r io.Reader, eui64 link.ExtAddress) (DeviceIdentity, error) {
	id := DeviceIdentity{EUI64: eui64}
	if err := id.RegenerateExtAddress(r); err != nil {
		return id, err
	}
	if err := id.RegenerateMeshLocalIID(r); err != nil {
		return id, err
	}
	return id, nil
}

// RegenerateExtAddress picks a new random extended address with the
// locally-administered bit set.
func (d *DeviceIdentity) RegenerateExtAddress(r io.Reader) error {
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, d.ExtAddress[:]); err != nil {
		return err
	}
	d.ExtAddress[0] |= 0x02
	return nil
}

// RegenerateMeshLocalIID picks a new random mesh-local IID, skipping the
// 0000:00ff:fe00:xxxx form reserved for routing locators.
func (d *DeviceIdentity) RegenerateMeshLocalIID(r io.Reader) error {
	if r == nil {
		r = rand.Reader
	}
	for {
		if _, err := io.ReadFull(r, d.MeshLocalIID[:]); err != nil {
			return err
		}
		if !isLocatorIID(d.MeshLocalIID) {
			return nil
		}
	}
}

func isLocatorIID(iid [8]byte) bool {
	return iid[0] == 0 && iid[1] == 0 && iid[2] == 0 && iid[3] == 0xff && iid[4] == 0xfe && iid[5] == 0
}

// MeshLocalEID returns the mesh-local EID under prefix.
func (d DeviceIdentity) MeshLocalEID(prefix [MeshLocalPrefixLen]byte) netip.Addr {
	var a [16]byte
	copy(a[:8], prefix[:])
	copy(a[8:], d.MeshLocalIID[:])
	return netip.AddrFrom16(a)
}

// RLOC returns the routing locator address for a short address under prefix.
func RLOC(prefix [MeshLocalPrefixLen]byte, short link.ShortAddress) netip.Addr {
	var a [16]byte
	copy(a[:8], prefix[:])
	a[11] = 0xff
	a[12] = 0xfe
	a[14] = byte(short >> 8)
	a[15] = byte(short)
	return netip.AddrFrom16(a)
}

func (d DeviceIdentity) record(provisioned bool) storage.IdentityRecord {
	return storage.IdentityRecord{
		EUI64:        d.EUI64,
		ExtAddress:   d.ExtAddress,
		MeshLocalIID: d.MeshLocalIID,
		Provisioned:  provisioned,
	}
}
