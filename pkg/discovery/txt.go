package discovery

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/thread/pkg/link"
)

// MeshCoP TXT record keys. Binary values are carried as raw bytes.
const (
	TXTKeyRecordVersion   = "rv"
	TXTKeyThreadVersion   = "tv"
	TXTKeyNetworkName     = "nn"
	TXTKeyExtendedPanID   = "xp"
	TXTKeyStateBitmap     = "sb"
	TXTKeyActiveTimestamp = "at"
	TXTKeyPartitionID     = "pt"
	TXTKeyExtAddress      = "xa"
	TXTKeyVendorName      = "vn"
	TXTKeyModelName       = "mn"

	// Published by this module so scanners can fill Network without a
	// radio discovery round.
	TXTKeyPanID   = "pi"
	TXTKeyChannel = "ch"
)

// RecordVersion is the only TXT record version produced.
const RecordVersion = "1"

// MaxNetworkNameLength is the longest Thread network name.
const MaxNetworkNameLength = 16

// State bitmap fields.
const (
	StateConnectionModeMask = 0x7
	StateConnectionDTLS     = 0x1

	StateInterfaceShift   = 3
	StateInterfaceMask    = 0x3 << StateInterfaceShift
	StateInterfaceActive  = 0x2 << StateInterfaceShift
	StateInterfaceIdle    = 0x1 << StateInterfaceShift
	StateAvailabilityHigh = 0x1 << 5
	StateThreadRoleShift  = 9
	StateThreadRoleMask   = 0x3 << StateThreadRoleShift
)

// ThreadRole is the two-bit role published in the state bitmap.
type ThreadRole uint8

const (
	RoleDisabledOrDetached ThreadRole = iota
	RoleChild
	RoleRouter
	RoleLeader
)

func (r ThreadRole) String() string {
	switch r {
	case RoleDisabledOrDetached:
		return "detached"
	case RoleChild:
		return "child"
	case RoleRouter:
		return "router"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("ThreadRole(%d)", r)
	}
}

// MeshCoPTXT holds the TXT records of a _meshcop._udp service.
type MeshCoPTXT struct {
	ThreadVersion   string
	NetworkName     string
	ExtendedPanID   link.ExtendedPanID
	StateBitmap     uint32
	ActiveTimestamp uint64
	PartitionID     uint32
	ExtAddress      link.ExtAddress
	VendorName      string
	ModelName       string

	PanID   link.PanID
	Channel link.Channel
}

// Role returns the Thread role bits of the state bitmap.
func (m MeshCoPTXT) Role() ThreadRole {
	return ThreadRole((m.StateBitmap & StateThreadRoleMask) >> StateThreadRoleShift)
}

// SetRole replaces the Thread role bits of the state bitmap.
func (m *MeshCoPTXT) SetRole(r ThreadRole) {
	m.StateBitmap = m.StateBitmap&^StateThreadRoleMask | uint32(r)<<StateThreadRoleShift
}

// Validate checks the fields required for publishing.
func (m *MeshCoPTXT) Validate() error {
	if m.NetworkName == "" || len(m.NetworkName) > MaxNetworkNameLength {
		return ErrInvalidNetworkName
	}
	if m.Channel != 0 {
		if err := m.Channel.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Encode produces the TXT strings in a fixed key order.
func (m *MeshCoPTXT) Encode() []string {
	var u32 [4]byte
	var u64 [8]byte

	out := []string{
		TXTKeyRecordVersion + "=" + RecordVersion,
	}
	if m.ThreadVersion != "" {
		out = append(out, TXTKeyThreadVersion+"="+m.ThreadVersion)
	}
	out = append(out, TXTKeyNetworkName+"="+m.NetworkName)
	out = append(out, TXTKeyExtendedPanID+"="+string(m.ExtendedPanID[:]))

	binary.BigEndian.PutUint32(u32[:], m.StateBitmap)
	out = append(out, TXTKeyStateBitmap+"="+string(u32[:]))

	if m.ActiveTimestamp != 0 {
		binary.BigEndian.PutUint64(u64[:], m.ActiveTimestamp)
		out = append(out, TXTKeyActiveTimestamp+"="+string(u64[:]))
	}
	if m.Role() != RoleDisabledOrDetached {
		binary.BigEndian.PutUint32(u32[:], m.PartitionID)
		out = append(out, TXTKeyPartitionID+"="+string(u32[:]))
	}
	if !m.ExtAddress.IsZero() {
		out = append(out, TXTKeyExtAddress+"="+string(m.ExtAddress[:]))
	}
	if m.VendorName != "" {
		out = append(out, TXTKeyVendorName+"="+m.VendorName)
	}
	if m.ModelName != "" {
		out = append(out, TXTKeyModelName+"="+m.ModelName)
	}
	if m.Channel != 0 {
		out = append(out, TXTKeyPanID+"="+strconv.FormatUint(uint64(m.PanID), 10))
		out = append(out, TXTKeyChannel+"="+strconv.FormatUint(uint64(m.Channel), 10))
	}
	return out
}

// ParseTXT splits TXT strings into a key/value map. Entries without '=' are
// boolean attributes and map to the empty string.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// ParseMeshCoPTXT decodes TXT strings. Unknown keys are ignored; binary
// fields of the wrong length are an error.
func ParseMeshCoPTXT(records []string) (*MeshCoPTXT, error) {
	kv := ParseTXT(records)

	if rv, ok := kv[TXTKeyRecordVersion]; ok && rv != RecordVersion {
		return nil, fmt.Errorf("%w: record version %q", ErrInvalidTXTRecord, rv)
	}

	m := &MeshCoPTXT{
		ThreadVersion: kv[TXTKeyThreadVersion],
		NetworkName:   kv[TXTKeyNetworkName],
		VendorName:    kv[TXTKeyVendorName],
		ModelName:     kv[TXTKeyModelName],
	}

	fixed := []struct {
		key string
		dst []byte
	}{
		{TXTKeyExtendedPanID, m.ExtendedPanID[:]},
		{TXTKeyExtAddress, m.ExtAddress[:]},
	}
	for _, f := range fixed {
		v, ok := kv[f.key]
		if !ok {
			continue
		}
		if len(v) != len(f.dst) {
			return nil, fmt.Errorf("%w: %s has %d bytes", ErrInvalidTXTRecord, f.key, len(v))
		}
		copy(f.dst, v)
	}

	if v, ok := kv[TXTKeyStateBitmap]; ok {
		if len(v) != 4 {
			return nil, fmt.Errorf("%w: sb has %d bytes", ErrInvalidTXTRecord, len(v))
		}
		m.StateBitmap = binary.BigEndian.Uint32([]byte(v))
	}
	if v, ok := kv[TXTKeyActiveTimestamp]; ok {
		if len(v) != 8 {
			return nil, fmt.Errorf("%w: at has %d bytes", ErrInvalidTXTRecord, len(v))
		}
		m.ActiveTimestamp = binary.BigEndian.Uint64([]byte(v))
	}
	if v, ok := kv[TXTKeyPartitionID]; ok {
		if len(v) != 4 {
			return nil, fmt.Errorf("%w: pt has %d bytes", ErrInvalidTXTRecord, len(v))
		}
		m.PartitionID = binary.BigEndian.Uint32([]byte(v))
	}
	if v, ok := kv[TXTKeyPanID]; ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: pi: %v", ErrInvalidTXTRecord, err)
		}
		m.PanID = link.PanID(n)
	}
	if v, ok := kv[TXTKeyChannel]; ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: ch: %v", ErrInvalidTXTRecord, err)
		}
		m.Channel = link.Channel(n)
	}

	return m, nil
}
