package bootstrap

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/storage"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	mu       sync.Mutex
	next     messaging.Handle
	sent     []Request
	handles  []messaging.Handle
	canceled []messaging.Handle
	err      error
}

func (m *fakeMessenger) Send(req Request, _ messaging.TimeoutParams, _ messaging.RetryPolicy) (messaging.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	if m.err != nil {
		return 0, m.err
	}
	m.next++
	m.handles = append(m.handles, m.next)
	return m.next, nil
}

func (m *fakeMessenger) Cancel(h messaging.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, h)
	return nil
}

func (m *fakeMessenger) last() (Request, messaging.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Request{}, 0
	}
	return m.sent[len(m.sent)-1], m.next
}

func (m *fakeMessenger) count(kind RequestKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.sent {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func (m *fakeMessenger) ofKind(kind RequestKind) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.sent {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type radioStart struct {
	Channel link.Channel
	PanID   link.PanID
	Role    Role
}

type fakeRadio struct {
	mu     sync.Mutex
	starts []radioStart
	stops  int
	short  link.ShortAddress
	resets int
}

func (r *fakeRadio) Start(ch link.Channel, pan link.PanID, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, radioStart{ch, pan, role})
	return nil
}

func (r *fakeRadio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRadio) SetShortAddress(s link.ShortAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.short = s
	return nil
}

func (r *fakeRadio) ResetNeighbors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

// fakeScanner answers every scan synchronously with results, unless hold is
// set, in which case callbacks are kept for the test to complete.
type fakeScanner struct {
	mu       sync.Mutex
	results  []discovery.Network
	hold     bool
	requests []discovery.ScanRequest
	held     []discovery.ScanCallback
}

func (s *fakeScanner) Scan(_ context.Context, req discovery.ScanRequest, cb discovery.ScanCallback) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if s.hold {
		s.held = append(s.held, cb)
		s.mu.Unlock()
		return nil
	}
	results := append([]discovery.Network(nil), s.results...)
	s.mu.Unlock()

	var err error
	if len(results) == 0 {
		err = errors.New("nothing found")
	}
	cb(results, err)
	return nil
}

func (s *fakeScanner) scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *fakeScanner) lastRequest() discovery.ScanRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func (s *fakeScanner) release(i int, networks []discovery.Network) {
	s.mu.Lock()
	cb := s.held[i]
	s.mu.Unlock()
	cb(networks, nil)
}

var (
	testXPAN  = link.ExtendedPanID{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}
	otherXPAN = link.ExtendedPanID{1, 2, 3, 4, 5, 6, 7, 8}
	parentExt = link.ExtAddress{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
)

func testLink() dataset.LinkConfiguration {
	return dataset.LinkConfiguration{
		NetworkName:     "OpenThread-test",
		ExtendedPanID:   testXPAN,
		MeshLocalPrefix: [8]byte{0xfd, 0x00, 0x0d, 0xb8, 0, 0, 0, 0},
		NetworkKey:      [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		PanID:           0x1234,
		Channel:         15,
		ChannelMask:     link.Channel(15).MaskBit(),
		SecurityPolicy:  dataset.DefaultSecurityPolicy,
		ActiveTimestamp: dataset.Timestamp{Seconds: 10},
	}
}

type harness struct {
	t       *testing.T
	engine  *Engine
	reg     *dataset.Registry
	store   *storage.MemoryStorage
	msgr    *fakeMessenger
	radio   *fakeRadio
	scanner *fakeScanner
}

type harnessOption func(*Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		store:   storage.NewMemoryStorage(),
		msgr:    &fakeMessenger{},
		radio:   &fakeRadio{},
		scanner: &fakeScanner{},
	}
	h.reg = dataset.NewRegistry(dataset.RegistryConfig{Storage: h.store})
	config := Config{
		Datasets:              h.reg,
		Storage:               h.store,
		Messenger:             h.msgr,
		Radio:                 h.radio,
		Scanner:               h.scanner,
		Rand:                  rand.New(rand.NewPCG(1, 2)),
		ScanJitter:            1,
		RouterSelectionJitter: 1,
	}
	for _, o := range opts {
		o(&config)
	}
	e, err := NewEngine(config)
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(func() { _ = e.Close() })
	return h
}

// add registers interface id, provisioned with lc when non-nil.
func (h *harness) add(id link.InterfaceID, mode Role, lc *dataset.LinkConfiguration) *dataset.Instance {
	h.t.Helper()
	in, err := h.reg.Init(id, link.ExtAddress{0, 0, 0, 0, 0, 0, 0, byte(id + 1)})
	require.NoError(h.t, err)
	if lc != nil {
		b, err := lc.Encode()
		require.NoError(h.t, err)
		require.NoError(h.t, in.UpdateActive(b))
	}
	require.NoError(h.t, h.engine.AddInterface(InterfaceConfig{ID: id, Mode: mode}))
	return in
}

func (h *harness) post(id link.InterfaceID, ev Event) {
	h.t.Helper()
	require.NoError(h.t, h.engine.OnEvent(id, ev))
	h.engine.RunPending()
}

func (h *harness) tick(id link.InterfaceID, n int) {
	h.t.Helper()
	for range n {
		require.NoError(h.t, h.engine.Tick(id))
		h.engine.RunPending()
	}
}

func (h *harness) status(id link.InterfaceID) Status {
	h.t.Helper()
	st, ok := h.engine.Status(id)
	require.True(h.t, ok)
	return st
}

// fireScan expires the scan backoff timer directly.
func (h *harness) fireScan(id link.InterfaceID) {
	h.post(id, Timer{Kind: TimerScanBackoff})
}

func network(ext byte, xpan link.ExtendedPanID, rssi int8) discovery.Network {
	return discovery.Network{
		PanID:         0x1234,
		ExtendedPanID: xpan,
		NetworkName:   "OpenThread-test",
		Channel:       15,
		RSSI:          rssi,
		ExtAddress:    link.ExtAddress{0xaa, 0, 0, 0, 0, 0, 0, ext},
	}
}
