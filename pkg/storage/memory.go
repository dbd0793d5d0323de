package storage

import (
	"sync"

	"github.com/backkem/thread/pkg/link"
)

type recordKey struct {
	id  link.InterfaceID
	key string
}

// MemoryStorage is an in-memory Storage implementation.
// Useful for testing and development. Data is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStorage struct {
	mu       sync.RWMutex
	records  map[recordKey]any
	writeErr error
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[recordKey]any),
	}
}

// SetWriteError makes every subsequent write fail with err. A nil err
// restores normal operation.
func (m *MemoryStorage) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MemoryStorage) load(id link.InterfaceID, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.records[recordKey{id, key}]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStorage) store(id link.InterfaceID, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.records[recordKey{id, key}] = v
	return nil
}

func (m *MemoryStorage) remove(id link.InterfaceID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.records, recordKey{id, key})
	return nil
}

// LoadDataset returns the stored dataset of the given kind.
func (m *MemoryStorage) LoadDataset(id link.InterfaceID, kind DatasetKind) (DatasetRecord, error) {
	v, err := m.load(id, datasetKey(kind))
	if err != nil {
		return DatasetRecord{}, err
	}
	return v.(DatasetRecord).Clone(), nil
}

// SaveDataset stores or replaces a dataset.
func (m *MemoryStorage) SaveDataset(id link.InterfaceID, kind DatasetKind, rec DatasetRecord) error {
	return m.store(id, datasetKey(kind), rec.Clone())
}

// DeleteDataset removes a dataset. Deleting a missing record is not an error.
func (m *MemoryStorage) DeleteDataset(id link.InterfaceID, kind DatasetKind) error {
	return m.remove(id, datasetKey(kind))
}

// LoadIdentity returns the stored device identity.
func (m *MemoryStorage) LoadIdentity(id link.InterfaceID) (IdentityRecord, error) {
	v, err := m.load(id, keyIdentity)
	if err != nil {
		return IdentityRecord{}, err
	}
	return v.(IdentityRecord), nil
}

// SaveIdentity stores the device identity.
func (m *MemoryStorage) SaveIdentity(id link.InterfaceID, rec IdentityRecord) error {
	return m.store(id, keyIdentity, rec)
}

// LoadParent returns the stored parent record.
func (m *MemoryStorage) LoadParent(id link.InterfaceID) (ParentRecord, error) {
	v, err := m.load(id, keyParent)
	if err != nil {
		return ParentRecord{}, err
	}
	return v.(ParentRecord), nil
}

// SaveParent stores the parent record.
func (m *MemoryStorage) SaveParent(id link.InterfaceID, rec ParentRecord) error {
	return m.store(id, keyParent, rec)
}

// DeleteParent removes the parent record.
func (m *MemoryStorage) DeleteParent(id link.InterfaceID) error {
	return m.remove(id, keyParent)
}

// LoadFrameCounters returns the stored frame counters.
func (m *MemoryStorage) LoadFrameCounters(id link.InterfaceID) (FrameCounterRecord, error) {
	v, err := m.load(id, keyCounters)
	if err != nil {
		return FrameCounterRecord{}, err
	}
	return v.(FrameCounterRecord), nil
}

// SaveFrameCounters stores the frame counters.
func (m *MemoryStorage) SaveFrameCounters(id link.InterfaceID, rec FrameCounterRecord) error {
	return m.store(id, keyCounters, rec)
}

var _ Storage = (*MemoryStorage)(nil)
