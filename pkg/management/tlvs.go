package management

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/tlv"
)

// Resource paths.
const (
	PathActiveGet     = "c/ag"
	PathActiveSet     = "c/as"
	PathPendingGet    = "c/pg"
	PathPendingSet    = "c/ps"
	PathPanIDQuery    = "c/pq"
	PathPanIDConflict = "c/pc"
	PathEnergyScan    = "c/es"
	PathEnergyReport  = "c/ed"
	PathAnnounceBegin = "c/ab"
)

// State is the value of a State TLV.
type State uint8

const (
	StatePending State = 0
	StateAccept  State = 1
	StateReject  State = 0xFF
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccept:
		return "accept"
	case StateReject:
		return "reject"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func stateTLV(s State) []byte {
	return tlv.Append(nil, dataset.TypeState, []byte{byte(s)})
}

func parseState(payload []byte) (State, error) {
	v, ok := tlv.Find(payload, dataset.TypeState)
	if !ok || len(v) != 1 {
		return 0, fmt.Errorf("%w: no state", ErrBadResponse)
	}
	return State(v[0]), nil
}

// getTypes returns the TLV types listed in a Get TLV, or nil for "all".
func getTypes(payload []byte) []tlv.Type {
	v, ok := tlv.Find(payload, dataset.TypeGet)
	if !ok {
		return nil
	}
	out := make([]tlv.Type, len(v))
	for i, b := range v {
		out[i] = tlv.Type(b)
	}
	return out
}

func getTLV(types []tlv.Type) []byte {
	if len(types) == 0 {
		return nil
	}
	v := make([]byte, len(types))
	for i, t := range types {
		v[i] = byte(t)
	}
	return tlv.Append(nil, dataset.TypeGet, v)
}

// PanIDQuery asks a node to look for a PAN id on a set of channels.
type PanIDQuery struct {
	SessionID   uint16
	ChannelMask uint32
	PanID       link.PanID
}

func (q PanIDQuery) encode() []byte {
	w := tlv.NewWriter(0)
	w.PutUint16(dataset.TypeCommissionerSessionID, q.SessionID)
	w.Put(dataset.TypeChannelMask, dataset.ChannelMaskValue(q.ChannelMask))
	w.PutUint16(dataset.TypePanID, uint16(q.PanID))
	return w.Bytes()
}

func decodePanIDQuery(payload []byte) (PanIDQuery, error) {
	var q PanIDQuery
	var err error
	if q.SessionID, err = findUint16(payload, dataset.TypeCommissionerSessionID); err != nil {
		return q, err
	}
	if q.ChannelMask, err = findChannelMask(payload); err != nil {
		return q, err
	}
	pan, err := findUint16(payload, dataset.TypePanID)
	if err != nil {
		return q, err
	}
	q.PanID = link.PanID(pan)
	return q, nil
}

// PanIDConflict reports the channels on which a queried PAN id was heard.
type PanIDConflict struct {
	ChannelMask uint32
	PanID       link.PanID
}

func (c PanIDConflict) encode() []byte {
	w := tlv.NewWriter(0)
	w.Put(dataset.TypeChannelMask, dataset.ChannelMaskValue(c.ChannelMask))
	w.PutUint16(dataset.TypePanID, uint16(c.PanID))
	return w.Bytes()
}

func decodePanIDConflict(payload []byte) (PanIDConflict, error) {
	var c PanIDConflict
	var err error
	if c.ChannelMask, err = findChannelMask(payload); err != nil {
		return c, err
	}
	pan, err := findUint16(payload, dataset.TypePanID)
	if err != nil {
		return c, err
	}
	c.PanID = link.PanID(pan)
	return c, nil
}

// EnergyScan asks a node to measure channel energy.
type EnergyScan struct {
	SessionID    uint16
	ChannelMask  uint32
	Count        uint8
	Period       time.Duration
	ScanDuration time.Duration
}

func (e EnergyScan) encode() []byte {
	w := tlv.NewWriter(0)
	w.PutUint16(dataset.TypeCommissionerSessionID, e.SessionID)
	w.Put(dataset.TypeChannelMask, dataset.ChannelMaskValue(e.ChannelMask))
	w.PutUint8(dataset.TypeCount, e.Count)
	w.PutUint16(dataset.TypePeriod, uint16(e.Period/time.Millisecond))
	w.PutUint16(dataset.TypeScanDuration, uint16(e.ScanDuration/time.Millisecond))
	return w.Bytes()
}

func decodeEnergyScan(payload []byte) (EnergyScan, error) {
	var e EnergyScan
	var err error
	if e.SessionID, err = findUint16(payload, dataset.TypeCommissionerSessionID); err != nil {
		return e, err
	}
	if e.ChannelMask, err = findChannelMask(payload); err != nil {
		return e, err
	}
	if e.Count, err = findUint8(payload, dataset.TypeCount); err != nil {
		return e, err
	}
	period, err := findUint16(payload, dataset.TypePeriod)
	if err != nil {
		return e, err
	}
	dur, err := findUint16(payload, dataset.TypeScanDuration)
	if err != nil {
		return e, err
	}
	e.Period = time.Duration(period) * time.Millisecond
	e.ScanDuration = time.Duration(dur) * time.Millisecond
	return e, nil
}

// EnergyReport carries measured energy, Count values per channel in mask order.
type EnergyReport struct {
	ChannelMask uint32
	Energy      []int8
}

func (r EnergyReport) encode() []byte {
	w := tlv.NewWriter(0)
	w.Put(dataset.TypeChannelMask, dataset.ChannelMaskValue(r.ChannelMask))
	v := make([]byte, len(r.Energy))
	for i, e := range r.Energy {
		v[i] = byte(e)
	}
	w.Put(dataset.TypeEnergyList, v)
	return w.Bytes()
}

func decodeEnergyReport(payload []byte) (EnergyReport, error) {
	var r EnergyReport
	var err error
	if r.ChannelMask, err = findChannelMask(payload); err != nil {
		return r, err
	}
	v, ok := tlv.Find(payload, dataset.TypeEnergyList)
	if !ok {
		return r, fmt.Errorf("%w: %s", ErrMissingTLV, dataset.TypeName(dataset.TypeEnergyList))
	}
	r.Energy = make([]int8, len(v))
	for i, b := range v {
		r.Energy[i] = int8(b)
	}
	return r, nil
}

// AnnounceBegin asks a node to send MLE Announce messages.
type AnnounceBegin struct {
	SessionID   uint16
	ChannelMask uint32
	Count       uint8
	Period      time.Duration
}

func (a AnnounceBegin) encode() []byte {
	w := tlv.NewWriter(0)
	w.PutUint16(dataset.TypeCommissionerSessionID, a.SessionID)
	w.Put(dataset.TypeChannelMask, dataset.ChannelMaskValue(a.ChannelMask))
	w.PutUint8(dataset.TypeCount, a.Count)
	w.PutUint16(dataset.TypePeriod, uint16(a.Period/time.Millisecond))
	return w.Bytes()
}

func decodeAnnounceBegin(payload []byte) (AnnounceBegin, error) {
	var a AnnounceBegin
	var err error
	if a.SessionID, err = findUint16(payload, dataset.TypeCommissionerSessionID); err != nil {
		return a, err
	}
	if a.ChannelMask, err = findChannelMask(payload); err != nil {
		return a, err
	}
	if a.Count, err = findUint8(payload, dataset.TypeCount); err != nil {
		return a, err
	}
	period, err := findUint16(payload, dataset.TypePeriod)
	if err != nil {
		return a, err
	}
	a.Period = time.Duration(period) * time.Millisecond
	return a, nil
}

func findUint8(payload []byte, t tlv.Type) (uint8, error) {
	v, ok := tlv.Find(payload, t)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingTLV, dataset.TypeName(t))
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("%w: %s length %d", dataset.ErrInvalidValue, dataset.TypeName(t), len(v))
	}
	return v[0], nil
}

func findUint16(payload []byte, t tlv.Type) (uint16, error) {
	v, ok := tlv.Find(payload, t)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingTLV, dataset.TypeName(t))
	}
	if len(v) != 2 {
		return 0, fmt.Errorf("%w: %s length %d", dataset.ErrInvalidValue, dataset.TypeName(t), len(v))
	}
	return binary.BigEndian.Uint16(v), nil
}

func findChannelMask(payload []byte) (uint32, error) {
	v, ok := tlv.Find(payload, dataset.TypeChannelMask)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingTLV, dataset.TypeName(dataset.TypeChannelMask))
	}
	return dataset.DecodeChannelMask(v)
}
