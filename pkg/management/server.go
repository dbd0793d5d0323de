package management

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"slices"
	"time"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/tlv"
	"github.com/pion/logging"
)

// DefaultMinDelayTimer is the shortest delay accepted for a pending dataset.
const DefaultMinDelayTimer = 30 * time.Second

// connectivityTypes may only change through a pending dataset.
var connectivityTypes = []tlv.Type{
	dataset.TypeChannel,
	dataset.TypePanID,
	dataset.TypeMeshLocalPrefix,
	dataset.TypeNetworkKey,
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Dataset is the dataset instance the commands operate on. Required.
	Dataset *dataset.Instance

	// MinDelayTimer raises shorter pending delays. Default: 30s.
	MinDelayTimer time.Duration

	// Ignore lists TLVs never returned by a get. The network key and PSKc
	// are also withheld while the security policy forbids obtaining them.
	Ignore []tlv.Type

	// OnDatasetChanged is called after a successful set.
	OnDatasetChanged func(kind dataset.Kind)

	// Scan and announce requests. A nil callback leaves the resource
	// unregistered.
	OnPanIDQuery    func(q PanIDQuery, from net.Addr)
	OnEnergyScan    func(e EnergyScan, from net.Addr)
	OnAnnounceBegin func(a AnnounceBegin)

	// Commissioner-side reports. A nil callback leaves the resource
	// unregistered.
	OnPanIDConflict func(c PanIDConflict, from net.Addr)
	OnEnergyReport  func(r EnergyReport, from net.Addr)

	LoggerFactory logging.LoggerFactory
}

// Server answers management requests for one interface.
type Server struct {
	config ServerConfig
	log    logging.LeveledLogger
}

// NewServer creates a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Dataset == nil {
		return nil, ErrNoDataset
	}
	if config.MinDelayTimer <= 0 {
		config.MinDelayTimer = DefaultMinDelayTimer
	}
	s := &Server{config: config}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("mgmt")
	}
	return s, nil
}

// Register installs the server's handlers on svc.
func (s *Server) Register(svc *messaging.Service) {
	svc.Handle(PathActiveGet, s.handleActiveGet)
	svc.Handle(PathActiveSet, s.handleActiveSet)
	svc.Handle(PathPendingGet, s.handlePendingGet)
	svc.Handle(PathPendingSet, s.handlePendingSet)

	if s.config.OnPanIDQuery != nil {
		svc.Handle(PathPanIDQuery, s.handlePanIDQuery)
	}
	if s.config.OnEnergyScan != nil {
		svc.Handle(PathEnergyScan, s.handleEnergyScan)
	}
	if s.config.OnAnnounceBegin != nil {
		svc.Handle(PathAnnounceBegin, s.handleAnnounceBegin)
	}
	if s.config.OnPanIDConflict != nil {
		svc.Handle(PathPanIDConflict, s.handlePanIDConflict)
	}
	if s.config.OnEnergyReport != nil {
		svc.Handle(PathEnergyReport, s.handleEnergyReport)
	}
}

func (s *Server) handleActiveGet(req *messaging.Message, _ net.Addr) (messaging.Code, []byte) {
	return s.get(dataset.KindActive, req.Payload)
}

func (s *Server) handlePendingGet(req *messaging.Message, _ net.Addr) (messaging.Code, []byte) {
	return s.get(dataset.KindPending, req.Payload)
}

func (s *Server) get(kind dataset.Kind, payload []byte) (messaging.Code, []byte) {
	if err := tlv.Validate(payload); err != nil {
		return messaging.BadRequest, nil
	}
	out, err := s.config.Dataset.Get(kind, getTypes(payload), s.ignored())
	if err != nil {
		// An absent dataset answers with an empty payload.
		return messaging.Changed, nil
	}
	return messaging.Changed, out
}

func (s *Server) ignored() []tlv.Type {
	ignore := slices.Clone(s.config.Ignore)
	lc, ok := s.config.Dataset.LinkConfiguration()
	if ok && lc.SecurityPolicy.Flags&dataset.PolicyObtainNetworkKey == 0 {
		ignore = append(ignore, dataset.TypeNetworkKey, dataset.TypePSKc)
	}
	return ignore
}

func (s *Server) handleActiveSet(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
	state := s.activeSet(req.Payload)
	if s.log != nil {
		s.log.Infof("MGMT_ACTIVE_SET from %v: %s", from, state)
	}
	if state == StateAccept && s.config.OnDatasetChanged != nil {
		s.config.OnDatasetChanged(dataset.KindActive)
	}
	return messaging.Changed, stateTLV(state)
}

func (s *Server) activeSet(payload []byte) State {
	if err := tlv.Validate(payload); err != nil {
		return StateReject
	}
	tsValue, ok := tlv.Find(payload, dataset.TypeActiveTimestamp)
	if !ok {
		return StateReject
	}
	ts, err := dataset.DecodeTimestamp(tsValue)
	if err != nil {
		return StateReject
	}

	if cur, ok := s.config.Dataset.Active(); ok {
		if curTS, ok := cur.ActiveTimestamp(); ok && !ts.After(curTS) {
			return StateReject
		}
		for _, t := range connectivityTypes {
			v, ok := tlv.Find(payload, t)
			if !ok {
				continue
			}
			if old, _ := cur.Find(t); !bytes.Equal(old, v) {
				return StateReject
			}
		}
	}

	if err := s.config.Dataset.UpdateActive(payload, dataset.TypeCommissionerSessionID); err != nil {
		if s.log != nil {
			s.log.Debugf("active set: %v", err)
		}
		return StateReject
	}
	return StateAccept
}

func (s *Server) handlePendingSet(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
	state := s.pendingSet(req.Payload)
	if s.log != nil {
		s.log.Infof("MGMT_PENDING_SET from %v: %s", from, state)
	}
	if state == StateAccept && s.config.OnDatasetChanged != nil {
		s.config.OnDatasetChanged(dataset.KindPending)
	}
	return messaging.Changed, stateTLV(state)
}

func (s *Server) pendingSet(payload []byte) State {
	if err := tlv.Validate(payload); err != nil {
		return StateReject
	}
	for _, t := range []tlv.Type{dataset.TypeActiveTimestamp, dataset.TypePendingTimestamp, dataset.TypeDelayTimer} {
		if !tlv.Contains(payload, t) {
			return StateReject
		}
	}
	delay, err := findUint32(payload, dataset.TypeDelayTimer)
	if err != nil {
		return StateReject
	}

	in := s.config.Dataset
	if err := in.CreatePending(without(payload, dataset.TypeCommissionerSessionID)); err != nil {
		if s.log != nil && !errors.Is(err, dataset.ErrStalePending) {
			s.log.Debugf("pending set: %v", err)
		}
		return StateReject
	}
	minDelay := uint32(s.config.MinDelayTimer / time.Millisecond)
	if err := in.EnablePending(max(delay, minDelay)); err != nil {
		return StateReject
	}
	return StateAccept
}

func (s *Server) handlePanIDQuery(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
	q, err := decodePanIDQuery(req.Payload)
	if err != nil {
		return messaging.BadRequest, nil
	}
	s.config.OnPanIDQuery(q, from)
	return messaging.Changed, nil
}

func (s *Server) handleEnergyScan(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
	e, err := decodeEnergyScan(req.Payload)
	if err != nil {
		return messaging.BadRequest, nil
	}
	s.config.OnEnergyScan(e, from)
	return messaging.Changed, nil
}

func (s *Server) handleAnnounceBegin(req *messaging.Message, _ net.Addr) (messaging.Code, []byte) {
	a, err := decodeAnnounceBegin(req.Payload)
	if err != nil {
		return messaging.BadRequest, nil
	}
	s.config.OnAnnounceBegin(a)
	return messaging.Changed, nil
}

func (s *Server) handlePanIDConflict(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
	c, err := decodePanIDConflict(req.Payload)
	if err != nil {
		return messaging.BadRequest, nil
	}
	s.config.OnPanIDConflict(c, from)
	return messaging.Changed, nil
}

func (s *Server) handleEnergyReport(req *messaging.Message, from net.Addr) (messaging.Code, []byte) {
	r, err := decodeEnergyReport(req.Payload)
	if err != nil {
		return messaging.BadRequest, nil
	}
	s.config.OnEnergyReport(r, from)
	return messaging.Changed, nil
}

func findUint32(payload []byte, t tlv.Type) (uint32, error) {
	v, ok := tlv.Find(payload, t)
	if !ok {
		return 0, ErrMissingTLV
	}
	if len(v) != 4 {
		return 0, dataset.ErrInvalidValue
	}
	return binary.BigEndian.Uint32(v), nil
}

// without returns b minus the TLVs of the given types.
func without(b []byte, types ...tlv.Type) []byte {
	var out []byte
	_ = tlv.Each(b, func(e tlv.TLV) error {
		if !slices.Contains(types, e.Type) {
			out = tlv.Append(out, e.Type, e.Value)
		}
		return nil
	})
	return out
}
