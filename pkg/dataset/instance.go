package dataset

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
	"github.com/backkem/thread/pkg/tlv"
	"github.com/pion/logging"
)

// MaxDelayTimer bounds the delay of a pending dataset.
const MaxDelayTimer = 72 * time.Hour

// MaxDelayTimerMS is MaxDelayTimer in milliseconds.
const MaxDelayTimerMS = uint32(MaxDelayTimer / time.Millisecond)

// Config configures an Instance.
type Config struct {
	// Interface is the owning interface.
	Interface link.InterfaceID

	// Storage persists datasets and identity. Nil disables persistence.
	Storage storage.Storage

	// EUI64 is the factory address of the interface.
	EUI64 link.ExtAddress

	// Rand sources identity randomness. Nil uses crypto/rand.
	Rand io.Reader

	LoggerFactory logging.LoggerFactory
}

// Instance owns the datasets, link configuration and identity of one
// interface.
//
// It is safe for concurrent use.
type Instance struct {
	mu sync.Mutex

	id    link.InterfaceID
	store storage.Storage
	rand  io.Reader
	log   logging.LeveledLogger

	active  ConfigurationSet
	pending ConfigurationSet
	old     ConfigurationSet

	hasActive    bool
	hasPending   bool
	hasOld       bool
	pendingArmed bool

	link           LinkConfiguration
	oldKeySequence uint32
	identity       DeviceIdentity
	provisioned    bool
}

// NewInstance creates an Instance with a fresh random identity. Call Load to
// restore persisted state.
func NewInstance(config Config) (*Instance, error) {
	in := &Instance{
		id:    config.Interface,
		store: config.Storage,
		rand:  config.Rand,
	}
	if config.LoggerFactory != nil {
		in.log = config.LoggerFactory.NewLogger("dataset")
	}

	ident, err := NewDeviceIdentity(config.Rand, config.EUI64)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	in.identity = ident
	return in, nil
}

// Interface returns the owning interface.
func (in *Instance) Interface() link.InterfaceID {
	return in.id
}

// Load restores identity and datasets from storage. Missing records are not
// errors; corrupt records are logged, skipped and reported.
func (in *Instance) Load() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.store == nil {
		return nil
	}

	var errs []error

	ident, err := in.store.LoadIdentity(in.id)
	switch {
	case err == nil:
		in.identity = DeviceIdentity{EUI64: ident.EUI64, ExtAddress: ident.ExtAddress, MeshLocalIID: ident.MeshLocalIID}
		in.provisioned = ident.Provisioned
	case errors.Is(err, storage.ErrNotFound):
		in.persistIdentityLocked()
	default:
		errs = append(errs, fmt.Errorf("load identity: %w", err))
	}

	if set, ok, err := in.loadSetLocked(storage.DatasetActive); err != nil {
		errs = append(errs, err)
	} else if ok {
		lc, err := DecodeLinkConfiguration(set.Bytes())
		if err != nil {
			errs = append(errs, fmt.Errorf("decode active dataset: %w", err))
		} else {
			in.active = set
			in.hasActive = true
			in.link = lc
		}
	}

	if set, ok, err := in.loadSetLocked(storage.DatasetPending); err != nil {
		errs = append(errs, err)
	} else if ok {
		in.pending = set
		in.hasPending = true
		in.pendingArmed = set.TimeoutMS > 0
	}

	err = errors.Join(errs...)
	if err != nil && in.log != nil {
		in.log.Warnf("%s load: %v", in.id, err)
	}
	return err
}

func (in *Instance) loadSetLocked(kind storage.DatasetKind) (ConfigurationSet, bool, error) {
	rec, err := in.store.LoadDataset(in.id, kind)
	if errors.Is(err, storage.ErrNotFound) {
		return ConfigurationSet{}, false, nil
	}
	if err != nil {
		return ConfigurationSet{}, false, fmt.Errorf("load %s dataset: %w", kind, err)
	}
	set, err := NewConfigurationSet(rec.TLVs)
	if err != nil {
		return ConfigurationSet{}, false, fmt.Errorf("load %s dataset: %w", kind, err)
	}
	set.Timestamp = rec.Timestamp
	set.TimeoutMS = rec.TimeoutMS
	return set, true, nil
}

// CreatePending stores tlvs as the pending dataset, replacing any existing
// one. TLVs absent from tlvs are back-filled from the active dataset. A
// DelayTimer TLV sets the initial timeout; the timer does not run until
// EnablePending.
func (in *Instance) CreatePending(tlvs []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	set, err := NewConfigurationSet(tlvs)
	if err != nil {
		return err
	}

	ts, hasTS := set.PendingTimestamp()
	if in.hasPending && hasTS {
		if cur, ok := in.pending.PendingTimestamp(); ok && !ts.After(cur) {
			return ErrStalePending
		}
	}
	if in.hasActive {
		if err := set.CopyMissing(in.active.Bytes()); err != nil {
			return err
		}
	}

	set.Timestamp = ts.Uint64()
	if d, ok := set.DelayTimer(); ok {
		set.TimeoutMS = clampDelay(d)
	}

	in.pending = set
	in.hasPending = true
	in.pendingArmed = false
	in.persistSetLocked(storage.DatasetPending, &in.pending)

	if in.log != nil {
		in.log.Infof("%s pending dataset created, timestamp %s", in.id, ts)
	}
	return nil
}

// EnablePending arms the pending dataset to activate after timeoutMS,
// clamped to MaxDelayTimerMS.
func (in *Instance) EnablePending(timeoutMS uint32) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.hasPending {
		return ErrNoPending
	}
	in.pending.TimeoutMS = clampDelay(timeoutMS)
	in.pendingArmed = true
	in.persistSetLocked(storage.DatasetPending, &in.pending)

	if in.log != nil {
		in.log.Debugf("%s pending dataset armed, %d ms", in.id, in.pending.TimeoutMS)
	}
	return nil
}

func clampDelay(ms uint32) uint32 {
	return min(ms, MaxDelayTimerMS)
}

// TickSeconds advances the pending delay timer. When the delay runs out
// within this tick the pending dataset is activated and activated is true.
func (in *Instance) TickSeconds(elapsed uint32) (activated bool, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.hasPending || !in.pendingArmed {
		return false, nil
	}
	ms := uint64(elapsed) * 1000
	if ms < uint64(in.pending.TimeoutMS) {
		in.pending.TimeoutMS -= uint32(ms)
		return false, nil
	}
	in.pending.TimeoutMS = 0
	if err := in.activatePendingLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// ActivatePending promotes the pending dataset to active. The previous
// active dataset is kept as the old dataset until DiscardOld or
// OldConfigActivate.
//
// If the pending active timestamp is older than the current one and the
// network key is unchanged, the pending dataset is discarded and
// ErrTimestampRollback is returned.
func (in *Instance) ActivatePending() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.activatePendingLocked()
}

func (in *Instance) activatePendingLocked() error {
	if !in.hasPending {
		return ErrNoPending
	}

	next := in.pending
	next.Remove(TypePendingTimestamp, TypeDelayTimer)
	next.TimeoutMS = 0

	var err error
	if in.hasActive {
		err = next.CopyMandatory(in.active.Bytes())
	} else {
		err = next.CheckMandatory()
	}
	if err != nil {
		in.discardPendingLocked()
		return err
	}
	lc, err := DecodeLinkConfiguration(next.Bytes())
	if err != nil {
		in.discardPendingLocked()
		return err
	}

	keyChanged := in.hasActive && lc.NetworkKey != in.link.NetworkKey
	if in.hasActive && lc.ActiveTimestamp.Compare(in.link.ActiveTimestamp) < 0 && !keyChanged {
		if in.log != nil {
			in.log.Warnf("%s pending dataset rejected: active timestamp %s older than %s",
				in.id, lc.ActiveTimestamp, in.link.ActiveTimestamp)
		}
		in.discardPendingLocked()
		return ErrTimestampRollback
	}

	if in.hasActive {
		in.old = in.active
		in.hasOld = true
		in.oldKeySequence = in.link.KeySequence
		lc.KeySequence = in.link.KeySequence
	}
	if keyChanged {
		lc.KeySequence = 0
	}

	next.Timestamp = lc.ActiveTimestamp.Uint64()
	in.active = next
	in.hasActive = true
	in.link = lc
	in.discardPendingLocked()
	in.markProvisionedLocked()
	in.persistSetLocked(storage.DatasetActive, &in.active)

	if in.log != nil {
		in.log.Infof("%s pending dataset activated: channel %d pan %s timestamp %s",
			in.id, lc.Channel, lc.PanID, lc.ActiveTimestamp)
	}
	return nil
}

// UpdateActive merges tlvs into the active dataset, skipping the ignored
// types. The result must decode as a complete LinkConfiguration; otherwise
// the active dataset is unchanged.
func (in *Instance) UpdateActive(tlvs []byte, ignore ...tlv.Type) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	next := in.active
	skip := slices.Concat(ignore, []tlv.Type{TypePendingTimestamp, TypeDelayTimer})
	if err := next.AddAllFields(tlvs, skip...); err != nil {
		return err
	}
	lc, err := DecodeLinkConfiguration(next.Bytes())
	if err != nil {
		return err
	}

	lc.KeySequence = in.link.KeySequence
	if in.hasActive && lc.NetworkKey != in.link.NetworkKey {
		lc.KeySequence = 0
	}
	next.Timestamp = lc.ActiveTimestamp.Uint64()
	next.TimeoutMS = 0

	in.active = next
	in.hasActive = true
	in.link = lc
	in.markProvisionedLocked()
	in.persistSetLocked(storage.DatasetActive, &in.active)
	return nil
}

// OldConfigActivate restores the old dataset as active and discards any
// pending dataset. It returns ErrNothingToRestore, leaving the active
// dataset unchanged, when no old dataset exists.
func (in *Instance) OldConfigActivate() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.hasOld {
		return ErrNothingToRestore
	}
	lc, err := DecodeLinkConfiguration(in.old.Bytes())
	if err != nil {
		in.hasOld = false
		in.old.Clear()
		return err
	}
	lc.KeySequence = in.oldKeySequence

	in.active = in.old
	in.link = lc
	in.hasOld = false
	in.old.Clear()
	in.discardPendingLocked()
	in.persistSetLocked(storage.DatasetActive, &in.active)

	if in.log != nil {
		in.log.Infof("%s old dataset restored: channel %d pan %s", in.id, lc.Channel, lc.PanID)
	}
	return nil
}

// DiscardOld drops the old dataset once the new one is known to work.
func (in *Instance) DiscardOld() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.hasOld = false
	in.old.Clear()
}

// HasOld reports whether an old dataset can be restored.
func (in *Instance) HasOld() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.hasOld
}

// DiscardPending drops the pending dataset.
func (in *Instance) DiscardPending() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.discardPendingLocked()
}

func (in *Instance) discardPendingLocked() {
	had := in.hasPending
	in.pending.Clear()
	in.hasPending = false
	in.pendingArmed = false
	if had && in.store != nil {
		if err := in.store.DeleteDataset(in.id, storage.DatasetPending); err != nil && in.log != nil {
			in.log.Warnf("%s delete pending dataset: %v", in.id, err)
		}
	}
}

// Erase drops every dataset and the provisioned flag.
func (in *Instance) Erase() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.discardPendingLocked()
	in.active.Clear()
	in.old.Clear()
	in.hasActive = false
	in.hasOld = false
	in.link = LinkConfiguration{}
	in.provisioned = false
	if in.store != nil {
		if err := in.store.DeleteDataset(in.id, storage.DatasetActive); err != nil && in.log != nil {
			in.log.Warnf("%s delete active dataset: %v", in.id, err)
		}
	}
	in.persistIdentityLocked()
}

// Get returns the TLVs of a dataset filtered by requested (all when empty)
// and ignore. A pending dataset reports its remaining delay in DelayTimer.
func (in *Instance) Get(kind Kind, requested, ignore []tlv.Type) ([]byte, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch kind {
	case KindActive:
		if !in.hasActive {
			return nil, ErrNoActive
		}
		return in.active.Filter(requested, ignore), nil
	case KindPending:
		if !in.hasPending {
			return nil, ErrNoPending
		}
		p := in.pending
		if in.pendingArmed {
			if err := p.SetUint32(TypeDelayTimer, p.TimeoutMS); err != nil {
				return nil, err
			}
		}
		return p.Filter(requested, ignore), nil
	default:
		return nil, fmt.Errorf("dataset: unknown kind %s", kind)
	}
}

// Active returns a copy of the active dataset.
func (in *Instance) Active() (ConfigurationSet, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active, in.hasActive
}

// Pending returns a copy of the pending dataset.
func (in *Instance) Pending() (ConfigurationSet, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pending, in.hasPending
}

// PendingArmed reports whether the pending delay timer is running.
func (in *Instance) PendingArmed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.hasPending && in.pendingArmed
}

// LinkConfiguration returns the decoded active dataset.
func (in *Instance) LinkConfiguration() (LinkConfiguration, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.link, in.hasActive
}

// SetKeySequence records a key rotation.
func (in *Instance) SetKeySequence(seq uint32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.link.KeySequence = seq
}

// Identity returns the device identity.
func (in *Instance) Identity() DeviceIdentity {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.identity
}

// RegenerateMeshLocalIID picks a new mesh-local EID and persists it.
func (in *Instance) RegenerateMeshLocalIID() (DeviceIdentity, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.identity.RegenerateMeshLocalIID(in.rand); err != nil {
		return in.identity, err
	}
	in.persistIdentityLocked()
	return in.identity, nil
}

// Provisioned reports whether the interface has ever held a complete
// active dataset.
func (in *Instance) Provisioned() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.provisioned
}

func (in *Instance) markProvisionedLocked() {
	if in.provisioned {
		return
	}
	in.provisioned = true
	in.persistIdentityLocked()
}

func (in *Instance) persistSetLocked(kind storage.DatasetKind, set *ConfigurationSet) {
	if in.store == nil {
		return
	}
	rec := storage.DatasetRecord{
		Timestamp: set.Timestamp,
		TimeoutMS: set.TimeoutMS,
		TLVs:      append([]byte(nil), set.Bytes()...),
	}
	if err := in.store.SaveDataset(in.id, kind, rec); err != nil && in.log != nil {
		in.log.Warnf("%s persist %s dataset: %v", in.id, kind, err)
	}
}

func (in *Instance) persistIdentityLocked() {
	if in.store == nil {
		return
	}
	if err := in.store.SaveIdentity(in.id, in.identity.record(in.provisioned)); err != nil && in.log != nil {
		in.log.Warnf("%s persist identity: %v", in.id, err)
	}
}
