package storage

import (
	"errors"
	"fmt"

	"github.com/backkem/thread/pkg/link"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("storage: record corrupt")

	// ErrClosed is returned by a closed backend.
	ErrClosed = errors.New("storage: closed")
)

// DatasetKind selects which operational dataset a record belongs to.
type DatasetKind uint8

const (
	DatasetActive DatasetKind = iota
	DatasetPending
)

// String returns the record key fragment for the kind.
func (k DatasetKind) String() string {
	switch k {
	case DatasetActive:
		return "active"
	case DatasetPending:
		return "pending"
	default:
		return fmt.Sprintf("DatasetKind(%d)", k)
	}
}

// IsValid reports whether k is a known kind.
func (k DatasetKind) IsValid() bool {
	return k <= DatasetPending
}

// DatasetRecord is a persisted configuration set.
type DatasetRecord struct {
	Timestamp uint64 `cbor:"1,keyasint"`
	TimeoutMS uint32 `cbor:"2,keyasint"`
	TLVs      []byte `cbor:"3,keyasint"`
}

// Clone returns a deep copy.
func (r DatasetRecord) Clone() DatasetRecord {
	r.TLVs = append([]byte(nil), r.TLVs...)
	return r
}

// IdentityRecord is the persisted device identity.
type IdentityRecord struct {
	EUI64        link.ExtAddress `cbor:"1,keyasint"`
	ExtAddress   link.ExtAddress `cbor:"2,keyasint"`
	MeshLocalIID [8]byte         `cbor:"3,keyasint"`
	Provisioned  bool            `cbor:"4,keyasint"`
}

// ParentRecord remembers the last parent so a rebooted node can resynchronize
// without a full scan.
type ParentRecord struct {
	ParentExtAddress link.ExtAddress   `cbor:"1,keyasint"`
	ParentShort      link.ShortAddress `cbor:"2,keyasint"`
	ShortAddress     link.ShortAddress `cbor:"3,keyasint"`
}

// FrameCounterRecord holds the stored-ahead security frame counters.
type FrameCounterRecord struct {
	KeySequence uint32 `cbor:"1,keyasint"`
	MAC         uint32 `cbor:"2,keyasint"`
	MLE         uint32 `cbor:"3,keyasint"`
}

// Storage abstracts persistent storage of per-interface node state.
//
// All methods must be safe for concurrent use.
type Storage interface {
	// Operational datasets
	LoadDataset(id link.InterfaceID, kind DatasetKind) (DatasetRecord, error)
	SaveDataset(id link.InterfaceID, kind DatasetKind, rec DatasetRecord) error
	DeleteDataset(id link.InterfaceID, kind DatasetKind) error

	// Device identity
	LoadIdentity(id link.InterfaceID) (IdentityRecord, error)
	SaveIdentity(id link.InterfaceID, rec IdentityRecord) error

	// Last parent and own short address
	LoadParent(id link.InterfaceID) (ParentRecord, error)
	SaveParent(id link.InterfaceID, rec ParentRecord) error
	DeleteParent(id link.InterfaceID) error

	// Security frame counters
	LoadFrameCounters(id link.InterfaceID) (FrameCounterRecord, error)
	SaveFrameCounters(id link.InterfaceID, rec FrameCounterRecord) error
}

// Record keys shared by the backends.
const (
	keyIdentity = "identity"
	keyParent   = "parent"
	keyCounters = "counters"
)

func datasetKey(kind DatasetKind) string {
	return "dataset." + kind.String()
}
