package security

import (
	"errors"
	"sync"

	"github.com/backkem/thread/pkg/crypto"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
	"github.com/pion/logging"
)

// StoreAhead is how far the persisted frame counters run ahead of the live
// values. After a reboot the counters resume from the persisted value, so no
// counter is ever reused as long as fewer than StoreAhead frames were sent
// since the last write.
const StoreAhead = 1000

var (
	// ErrNoNetworkKey is returned when keys are requested before a key is set.
	ErrNoNetworkKey = errors.New("security: no network key")

	// ErrCounterExhausted is returned when a frame counter would wrap.
	ErrCounterExhausted = errors.New("security: frame counter exhausted")
)

// KeyManagerConfig configures a KeyManager.
type KeyManagerConfig struct {
	Interface     link.InterfaceID
	Storage       storage.Storage
	LoggerFactory logging.LoggerFactory
}

// KeyManager tracks the network key, the current key sequence and the
// outgoing MAC and MLE frame counters of one interface.
//
// It is safe for concurrent use.
type KeyManager struct {
	mu sync.Mutex

	id      link.InterfaceID
	store   storage.Storage
	log     logging.LeveledLogger
	key     [crypto.NetworkKeySize]byte
	haveKey bool
	keys    crypto.KeySet

	macCounter uint32
	mleCounter uint32
	stored     storage.FrameCounterRecord
}

// NewKeyManager creates a KeyManager and restores persisted frame counters.
func NewKeyManager(config KeyManagerConfig) *KeyManager {
	km := &KeyManager{
		id:    config.Interface,
		store: config.Storage,
	}
	if config.LoggerFactory != nil {
		km.log = config.LoggerFactory.NewLogger("keymgr")
	}

	if km.store != nil {
		rec, err := km.store.LoadFrameCounters(km.id)
		switch {
		case err == nil:
			km.stored = rec
			km.macCounter = rec.MAC
			km.mleCounter = rec.MLE
			km.keys.Sequence = rec.KeySequence
		case !errors.Is(err, storage.ErrNotFound) && km.log != nil:
			km.log.Warnf("load frame counters: %v", err)
		}
	}
	return km
}

// SetNetworkKey installs a network key and key sequence, deriving the keys in
// force. Changing the key or sequence resets the frame counters; the first key
// installed after a restart keeps the restored counters if the sequence matches.
func (km *KeyManager) SetNetworkKey(key [crypto.NetworkKeySize]byte, sequence uint32) {
	km.mu.Lock()
	defer km.mu.Unlock()

	changed := km.haveKey && key != km.key
	if changed || sequence != km.keys.Sequence {
		km.macCounter = 0
		km.mleCounter = 0
		km.stored = storage.FrameCounterRecord{}
	}
	km.key = key
	km.haveKey = true
	km.keys = crypto.DeriveKeySet(key, sequence)
	km.persistLocked(true)
}

// SetKeySequence switches to a new key sequence under the current key.
// Frame counters restart at zero for a new sequence.
func (km *KeyManager) SetKeySequence(sequence uint32) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if !km.haveKey {
		return ErrNoNetworkKey
	}
	if sequence == km.keys.Sequence {
		return nil
	}
	km.keys = crypto.DeriveKeySet(km.key, sequence)
	km.macCounter = 0
	km.mleCounter = 0
	km.persistLocked(true)
	if km.log != nil {
		km.log.Infof("%s key sequence now %d", km.id, sequence)
	}
	return nil
}

// KeySequence returns the current key sequence.
func (km *KeyManager) KeySequence() uint32 {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.keys.Sequence
}

// Keys returns the keys for the current sequence.
func (km *KeyManager) Keys() (crypto.KeySet, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if !km.haveKey {
		return crypto.KeySet{}, ErrNoNetworkKey
	}
	return km.keys, nil
}

// NextMACCounter returns the next outgoing MAC frame counter.
func (km *KeyManager) NextMACCounter() (uint32, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.macCounter == ^uint32(0) {
		return 0, ErrCounterExhausted
	}
	v := km.macCounter
	km.macCounter++
	km.persistLocked(false)
	return v, nil
}

// NextMLECounter returns the next outgoing MLE frame counter.
func (km *KeyManager) NextMLECounter() (uint32, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.mleCounter == ^uint32(0) {
		return 0, ErrCounterExhausted
	}
	v := km.mleCounter
	km.mleCounter++
	km.persistLocked(false)
	return v, nil
}

// persistLocked writes counters StoreAhead beyond the live values once a live
// counter reaches the persisted one, or unconditionally when force is set.
func (km *KeyManager) persistLocked(force bool) {
	if km.store == nil {
		return
	}
	if !force && km.macCounter < km.stored.MAC && km.mleCounter < km.stored.MLE {
		return
	}

	rec := storage.FrameCounterRecord{
		KeySequence: km.keys.Sequence,
		MAC:         saturatingAdd(km.macCounter, StoreAhead),
		MLE:         saturatingAdd(km.mleCounter, StoreAhead),
	}
	if err := km.store.SaveFrameCounters(km.id, rec); err != nil {
		if km.log != nil {
			km.log.Warnf("%s persist frame counters: %v", km.id, err)
		}
		return
	}
	km.stored = rec
}

func saturatingAdd(a, b uint32) uint32 {
	if a > ^uint32(0)-b {
		return ^uint32(0)
	}
	return a + b
}
