package dataset

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/backkem/thread/pkg/tlv"
)

// MaxSetSize is the capacity of a configuration set TLV buffer.
const MaxSetSize = 254

// ConfigurationSet is a TLV encoded dataset with its timestamp and delay.
//
// The zero value is an empty set. ConfigurationSet is a value type: copying
// it copies the buffer.
type ConfigurationSet struct {
	// Timestamp is the packed active timestamp for an active set and the
	// packed pending timestamp for a pending set.
	Timestamp uint64

	// TimeoutMS is the remaining delay before a pending set activates.
	TimeoutMS uint32

	buf [MaxSetSize]byte
	n   int
}

// NewConfigurationSet builds a set from a TLV stream.
func NewConfigurationSet(tlvs []byte) (ConfigurationSet, error) {
	var s ConfigurationSet
	err := s.SetTLVs(tlvs)
	return s, err
}

// Bytes returns the TLV stream. The slice aliases the set.
func (s *ConfigurationSet) Bytes() []byte {
	return s.buf[:s.n]
}

// Len returns the encoded length.
func (s *ConfigurationSet) Len() int {
	return s.n
}

// IsEmpty reports whether the set holds no TLVs.
func (s *ConfigurationSet) IsEmpty() bool {
	return s.n == 0
}

// Clear empties the set.
func (s *ConfigurationSet) Clear() {
	*s = ConfigurationSet{}
}

// SetTLVs replaces the contents with b after validating its framing.
func (s *ConfigurationSet) SetTLVs(b []byte) error {
	if len(b) > MaxSetSize {
		return ErrSetFull
	}
	if err := tlv.Validate(b); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s.n = copy(s.buf[:], b)
	return nil
}

// Find returns the value of TLV t.
func (s *ConfigurationSet) Find(t tlv.Type) ([]byte, bool) {
	return tlv.Find(s.Bytes(), t)
}

// Has reports whether TLV t is present.
func (s *ConfigurationSet) Has(t tlv.Type) bool {
	_, ok := s.Find(t)
	return ok
}

// Types returns the TLV types present in encoding order.
func (s *ConfigurationSet) Types() []tlv.Type {
	return tlv.Types(s.Bytes())
}

// Set writes TLV t, replacing an existing value in place.
func (s *ConfigurationSet) Set(t tlv.Type, v []byte) error {
	var out []byte
	replaced := false
	err := tlv.Each(s.Bytes(), func(e tlv.TLV) error {
		if e.Type == t {
			if !replaced {
				out = tlv.Append(out, t, v)
				replaced = true
			}
			return nil
		}
		out = tlv.Append(out, e.Type, e.Value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !replaced {
		out = tlv.Append(out, t, v)
	}
	return s.SetTLVs(out)
}

// SetUint16 writes a big-endian uint16 TLV.
func (s *ConfigurationSet) SetUint16(t tlv.Type, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return s.Set(t, b[:])
}

// SetUint32 writes a big-endian uint32 TLV.
func (s *ConfigurationSet) SetUint32(t tlv.Type, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return s.Set(t, b[:])
}

// Remove deletes every TLV of the given types.
func (s *ConfigurationSet) Remove(types ...tlv.Type) {
	out := filter(s.Bytes(), func(t tlv.Type) bool { return !slices.Contains(types, t) })
	s.n = copy(s.buf[:], out)
}

// AddFields copies the listed TLV types from src, overwriting existing values.
func (s *ConfigurationSet) AddFields(src []byte, types ...tlv.Type) error {
	return s.merge(src, func(t tlv.Type) bool { return slices.Contains(types, t) }, true)
}

// AddAllFields copies every TLV of src except the ignored types,
// overwriting existing values.
func (s *ConfigurationSet) AddAllFields(src []byte, ignore ...tlv.Type) error {
	return s.merge(src, func(t tlv.Type) bool { return !slices.Contains(ignore, t) }, true)
}

// CopyMissing back-fills TLVs present in src and absent from s.
func (s *ConfigurationSet) CopyMissing(src []byte) error {
	return s.merge(src, func(tlv.Type) bool { return true }, false)
}

// CopyMandatory fills every mandatory TLV absent from s with the value from
// prev. It returns ErrMissingMandatory naming the first type neither holds.
// Applying it twice leaves the set unchanged.
func (s *ConfigurationSet) CopyMandatory(prev []byte) error {
	if err := s.merge(prev, IsMandatory, false); err != nil {
		return err
	}
	return s.CheckMandatory()
}

// CheckMandatory returns ErrMissingMandatory if a mandatory TLV is absent.
func (s *ConfigurationSet) CheckMandatory() error {
	for _, t := range MandatoryTypes {
		if !s.Has(t) {
			return fmt.Errorf("%w: %s", ErrMissingMandatory, TypeName(t))
		}
	}
	return nil
}

// merge copies TLVs of src selected by want into s. With overwrite set,
// values already in s are replaced; otherwise they are kept. The set is
// unchanged if the result would not fit.
func (s *ConfigurationSet) merge(src []byte, want func(tlv.Type) bool, overwrite bool) error {
	if err := tlv.Validate(src); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	next := *s
	err := tlv.Each(src, func(e tlv.TLV) error {
		if !want(e.Type) {
			return nil
		}
		if !overwrite && next.Has(e.Type) {
			return nil
		}
		return next.Set(e.Type, e.Value)
	})
	if err != nil {
		return err
	}
	*s = next
	return nil
}

// Filter returns the TLVs of s selected by the requested and ignored lists.
// An empty requested list selects every TLV.
func (s *ConfigurationSet) Filter(requested, ignore []tlv.Type) []byte {
	return filter(s.Bytes(), func(t tlv.Type) bool {
		if slices.Contains(ignore, t) {
			return false
		}
		return len(requested) == 0 || slices.Contains(requested, t)
	})
}

func filter(b []byte, keep func(tlv.Type) bool) []byte {
	var out []byte
	_ = tlv.Each(b, func(e tlv.TLV) error {
		if keep(e.Type) {
			out = tlv.Append(out, e.Type, e.Value)
		}
		return nil
	})
	return out
}

// ActiveTimestamp decodes the ActiveTimestamp TLV.
func (s *ConfigurationSet) ActiveTimestamp() (Timestamp, bool) {
	return s.timestamp(TypeActiveTimestamp)
}

// PendingTimestamp decodes the PendingTimestamp TLV.
func (s *ConfigurationSet) PendingTimestamp() (Timestamp, bool) {
	return s.timestamp(TypePendingTimestamp)
}

func (s *ConfigurationSet) timestamp(t tlv.Type) (Timestamp, bool) {
	v, ok := s.Find(t)
	if !ok {
		return Timestamp{}, false
	}
	ts, err := DecodeTimestamp(v)
	if err != nil {
		return Timestamp{}, false
	}
	return ts, true
}

// DelayTimer decodes the DelayTimer TLV in milliseconds.
func (s *ConfigurationSet) DelayTimer() (uint32, bool) {
	v, ok := s.Find(TypeDelayTimer)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}
