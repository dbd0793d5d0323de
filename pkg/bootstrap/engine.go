package bootstrap

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/netdata"
	"github.com/backkem/thread/pkg/partition"
	"github.com/backkem/thread/pkg/security"
	"github.com/backkem/thread/pkg/storage"
	"github.com/pion/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine defaults.
const (
	DefaultRoleRetryLimit        = 3
	DefaultReattachRetryLimit    = 3
	DefaultScanJitter            = 2
	DefaultRouterSelectionJitter = 120
	DefaultScanDuration          = 3 * time.Second
	DefaultAnnounceCount         = 3
	DefaultAnnouncePeriod        = 1

	// MaxScanBackoff caps the scan backoff in seconds, before jitter.
	MaxScanBackoff = 600
)

const tracerName = "github.com/backkem/thread/pkg/bootstrap"

// Config configures an Engine.
type Config struct {
	// Datasets holds the dataset instance of every interface. Required.
	Datasets *dataset.Registry

	// Storage persists the last parent. Nil disables reattach.
	Storage storage.Storage

	// Messenger, Radio and Scanner are required.
	Messenger Messenger
	Radio     Radio
	Scanner   discovery.Scanner

	// Blacklist filters scan results. Nil creates one with the default TTL.
	Blacklist *security.Blacklist

	// Rand drives jitter and partition ids. Nil seeds from the clock.
	Rand *rand.Rand

	// TracerProvider traces event dispatch. Nil uses the global provider.
	TracerProvider trace.TracerProvider

	ScanDuration time.Duration

	// ScanJitter is the largest jitter, in seconds, added to a scan backoff.
	ScanJitter int

	// RoleRetryLimit is the number of failed attempts before the attempted
	// role is downgraded.
	RoleRetryLimit int

	// ReattachRetryLimit is the number of sync retries to a persisted parent.
	ReattachRetryLimit int

	// RouterSelectionJitter bounds, in seconds, the delay before a REED
	// that wants to be a router asks for a router id.
	RouterSelectionJitter int

	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.ScanDuration <= 0 {
		c.ScanDuration = DefaultScanDuration
	}
	if c.ScanJitter <= 0 {
		c.ScanJitter = DefaultScanJitter
	}
	if c.RoleRetryLimit <= 0 {
		c.RoleRetryLimit = DefaultRoleRetryLimit
	}
	if c.ReattachRetryLimit <= 0 {
		c.ReattachRetryLimit = DefaultReattachRetryLimit
	}
	if c.RouterSelectionJitter <= 0 {
		c.RouterSelectionJitter = DefaultRouterSelectionJitter
	}
	if c.Blacklist == nil {
		c.Blacklist = security.NewBlacklist(0)
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x7468726561640a))
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
}

func (c *Config) validate() error {
	switch {
	case c.Datasets == nil:
		return fmt.Errorf("%w: Datasets is required", ErrInvalidConfig)
	case c.Messenger == nil:
		return fmt.Errorf("%w: Messenger is required", ErrInvalidConfig)
	case c.Radio == nil:
		return fmt.Errorf("%w: Radio is required", ErrInvalidConfig)
	case c.Scanner == nil:
		return fmt.Errorf("%w: Scanner is required", ErrInvalidConfig)
	}
	return nil
}

// InterfaceConfig configures one interface of an Engine.
type InterfaceConfig struct {
	ID link.InterfaceID

	// Mode is the most capable role the interface may take.
	// Default: RoleRouter.
	Mode Role

	// Weighting is used when this interface forms a partition.
	// Default: netdata.DefaultWeighting.
	Weighting uint8

	// Policy is the partition comparison policy. Previous is managed by
	// the engine.
	Policy partition.Policy

	// NetworkData receives the partition's network data. Nil creates one.
	NetworkData *netdata.Synchronizer

	// Keys is updated when the active dataset changes. Optional.
	Keys *security.KeyManager
}

type pendingRequest struct {
	handle messaging.Handle
	kind   RequestKind
}

type announcement struct {
	msg    Announcement
	mask   uint32
	count  uint8
	period int
}

// iface is the state of one interface. It is only touched by dispatch.
type iface struct {
	id        link.InterfaceID
	mode      Role
	weighting uint8
	policy    partition.Policy
	dataset   *dataset.Instance
	netdata   *netdata.Synchronizer
	keys      *security.KeyManager

	state       State
	attach      AttachState
	role        Role
	attemptRole Role

	scanCount     int
	roleFailures  int
	reattachTries int
	scanning      bool
	timers        [numTimers]int

	pending *pendingRequest
	pool    networkPool
	target  discovery.Network

	parent      storage.ParentRecord
	short       link.ShortAddress
	childShort  link.ShortAddress
	routerID    uint8
	leader      netdata.LeaderData
	routerCount uint8

	previous        *partition.Previous
	pendingRollback bool
	announce        *announcement
}

type queued struct {
	id link.InterfaceID
	ev Event
}

// Engine runs the bootstrap state machine of every interface.
//
// OnEvent, Tick and OnTimeout may be called from any goroutine. Events are
// handled by Run or RunPending, never both at once.
type Engine struct {
	config Config
	log    logging.LeveledLogger
	tracer trace.Tracer
	rng    *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	qmu         sync.Mutex
	queue       []queued
	known       map[link.InterfaceID]bool
	resetQueued map[link.InterfaceID]bool
	wake        chan struct{}
	closed      bool

	hmu     sync.Mutex
	handles map[messaging.Handle]link.InterfaceID

	// mu is held while an event is dispatched.
	mu         sync.RWMutex
	ifaces     map[link.InterfaceID]*iface
	radioOwner link.InterfaceID
	radioOwned bool
}

// NewEngine creates an Engine with no interfaces.
func NewEngine(config Config) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	e := &Engine{
		config:      config,
		tracer:      config.TracerProvider.Tracer(tracerName),
		rng:         config.Rand,
		known:       make(map[link.InterfaceID]bool),
		resetQueued: make(map[link.InterfaceID]bool),
		wake:        make(chan struct{}, 1),
		handles:     make(map[messaging.Handle]link.InterfaceID),
		ifaces:      make(map[link.InterfaceID]*iface),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("bootstrap")
	}
	return e, nil
}

// AddInterface registers an interface. Its dataset instance must already
// exist in the registry. The interface stays disabled until Init.
func (e *Engine) AddInterface(cfg InterfaceConfig) error {
	in, ok := e.config.Datasets.Get(cfg.ID)
	if !ok {
		return fmt.Errorf("bootstrap: %s: %w", cfg.ID, dataset.ErrInterfaceNotFound)
	}
	if cfg.Mode == RoleDetached {
		cfg.Mode = RoleRouter
	}
	if cfg.Weighting == 0 {
		cfg.Weighting = netdata.DefaultWeighting
	}
	nd := cfg.NetworkData
	if nd == nil {
		nd = netdata.NewSynchronizer(netdata.Config{Interface: cfg.ID, LoggerFactory: e.config.LoggerFactory})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.ifaces[cfg.ID]; exists {
		return ErrInterfaceExists
	}
	e.ifaces[cfg.ID] = &iface{
		id:          cfg.ID,
		mode:        cfg.Mode,
		weighting:   cfg.Weighting,
		policy:      cfg.Policy,
		dataset:     in,
		netdata:     nd,
		keys:        cfg.Keys,
		attemptRole: cfg.Mode,
		short:       link.ShortAddressInvalid,
		childShort:  link.ShortAddressInvalid,
		routerID:    netdata.InvalidRouterID,
	}

	e.qmu.Lock()
	e.known[cfg.ID] = true
	e.qmu.Unlock()
	return nil
}

// RemoveInterface drops an interface and any events queued for it.
func (e *Engine) RemoveInterface(id link.InterfaceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.ifaces[id]
	if !ok {
		return ErrUnknownInterface
	}
	e.clearPending(in)
	e.releaseRadio(in)
	delete(e.ifaces, id)

	e.qmu.Lock()
	delete(e.known, id)
	delete(e.resetQueued, id)
	kept := e.queue[:0]
	for _, q := range e.queue {
		if q.id != id {
			kept = append(kept, q)
		}
	}
	e.queue = kept
	e.qmu.Unlock()
	return nil
}

// OnEvent queues ev for interface id. A Reset queued while another Reset
// for the same interface is still waiting is dropped.
func (e *Engine) OnEvent(id link.InterfaceID, ev Event) error {
	if ev == nil {
		return fmt.Errorf("bootstrap: nil event")
	}
	return e.enqueue(id, ev)
}

// Tick advances the interface's one-second timers.
func (e *Engine) Tick(id link.InterfaceID) error {
	return e.enqueue(id, tick{})
}

// OnTimeout reports a failed request. Its signature matches
// messaging.Config.OnTimeout.
func (e *Engine) OnTimeout(h messaging.Handle, usedAllRetries bool) {
	e.hmu.Lock()
	id, ok := e.handles[h]
	delete(e.handles, h)
	e.hmu.Unlock()
	if !ok {
		return
	}
	_ = e.enqueue(id, ConnectionError{Handle: h, UsedAllRetries: usedAllRetries})
}

func (e *Engine) enqueue(id link.InterfaceID, ev Event) error {
	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return ErrClosed
	}
	if !e.known[id] {
		e.qmu.Unlock()
		return ErrUnknownInterface
	}
	if _, ok := ev.(Reset); ok {
		if e.resetQueued[id] {
			e.qmu.Unlock()
			if e.log != nil {
				e.log.Debugf("%s reset already queued", id)
			}
			return nil
		}
		e.resetQueued[id] = true
	}
	e.queue = append(e.queue, queued{id: id, ev: ev})
	e.qmu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// post queues an event from inside a handler.
func (e *Engine) post(id link.InterfaceID, ev Event) {
	if err := e.enqueue(id, ev); err != nil && e.log != nil {
		e.log.Debugf("%s drop %s: %v", id, ev.eventName(), err)
	}
}

func (e *Engine) next() (queued, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()

	if len(e.queue) == 0 {
		return queued{}, false
	}
	q := e.queue[0]
	e.queue[0] = queued{}
	e.queue = e.queue[1:]
	if _, ok := q.ev.(Reset); ok {
		delete(e.resetQueued, q.id)
	}
	return q, true
}

// RunPending handles queued events, including those queued by the handlers
// themselves, until the queue is empty. It returns the number handled.
func (e *Engine) RunPending() int {
	n := 0
	for {
		q, ok := e.next()
		if !ok {
			return n
		}
		e.dispatch(q.id, q.ev)
		n++
	}
}

// Run handles events as they arrive until ctx is done or the engine is
// closed.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.ctx.Done():
			return ErrClosed
		case <-e.wake:
		}
	}
}

// Close stops the engine, cancels scans in progress and drops queued events.
func (e *Engine) Close() error {
	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.queue = nil
	e.qmu.Unlock()

	e.cancel()
	return nil
}

func (e *Engine) dispatch(id link.InterfaceID, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.ifaces[id]
	if !ok {
		return
	}

	_, span := e.tracer.Start(e.ctx, "bootstrap."+ev.eventName(),
		trace.WithAttributes(
			attribute.Int("thread.interface", int(id)),
			attribute.String("thread.state", in.state.String()),
		))
	defer span.End()

	if e.log != nil {
		if _, isTick := ev.(tick); !isTick {
			e.log.Tracef("%s %s in %s/%s", id, ev.eventName(), in.state, in.attach)
		}
	}

	switch ev := ev.(type) {
	case Init:
		e.handleInit(in)
	case Reset:
		e.handleReset(in, ev)
	case AttachReady:
		e.handleAttachReady(in, ev)
	case UpgradeToRouter:
		e.handleUpgradeToRouter(in)
	case DowngradeToReed:
		e.handleDowngradeToReed(in)
	case ActiveRouterAttach:
		e.handleActiveRouterAttach(in, ev)
	case RouterIdGetFailed:
		e.handleRouterIDGetFailed(in)
	case RouterIdReleased:
		e.handleRouterIDReleased(in)
	case RouterAdded:
		e.handleRouterAdded(in, ev)
	case RouterRemoved:
		e.handleRouterRemoved(in, ev)
	case ChildIdRequestReceived:
		e.handleChildIDRequestReceived(in, ev)
	case ChildUpdate:
		e.handleChildUpdate(in)
	case AnnounceActive:
		e.handleAnnounceActive(in, ev)
	case Timer:
		e.handleTimer(in, ev)
	case ScanComplete:
		e.handleScanComplete(in, ev)
	case ConnectionError:
		e.handleConnectionError(in, ev)
	case SecurityRejected:
		e.handleSecurityRejected(in, ev)
	case LeaderDataHeard:
		e.handleLeaderDataHeard(in, ev)
	case AnnounceBegin:
		e.handleAnnounceBegin(in, ev)
	case DatasetChanged:
		e.handleDatasetChanged(in, ev)
	case tick:
		e.handleTick(in)
	default:
		if e.log != nil {
			e.log.Warnf("%s unhandled event %T", id, ev)
		}
	}

	span.SetAttributes(
		attribute.String("thread.state.next", in.state.String()),
		attribute.String("thread.attach", in.attach.String()),
		attribute.String("thread.role", in.role.String()),
	)
}

// Status is a snapshot of one interface.
type Status struct {
	Interface    link.InterfaceID
	State        State
	Attach       AttachState
	Role         Role
	AttemptRole  Role
	Mode         Role
	ScanCount    int
	ShortAddress link.ShortAddress
	Parent       link.ExtAddress
	LeaderData   netdata.LeaderData
	RouterCount  uint8

	// Previous is the partition most recently abandoned in a merge.
	Previous *partition.Previous

	// AnnounceRounds is the number of announce rounds left, zero when idle.
	AnnounceRounds uint8

	Candidates      int
	OwnsRadio       bool
	PendingRequest  bool
	PendingRollback bool
	Timers          [numTimers]int
}

// String summarizes the status for log lines.
func (s Status) String() string {
	return fmt.Sprintf("%s %s/%s role=%s short=%s", s.Interface, s.State, s.Attach, s.Role, s.ShortAddress)
}

// Status returns a snapshot of interface id.
func (e *Engine) Status(id link.InterfaceID) (Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	in, ok := e.ifaces[id]
	if !ok {
		return Status{}, false
	}
	st := Status{
		Interface:       id,
		State:           in.state,
		Attach:          in.attach,
		Role:            in.role,
		AttemptRole:     in.attemptRole,
		Mode:            in.mode,
		ScanCount:       in.scanCount,
		ShortAddress:    in.short,
		Parent:          in.parent.ParentExtAddress,
		LeaderData:      in.leader,
		RouterCount:     in.routerCount,
		Candidates:      in.pool.count(),
		OwnsRadio:       e.radioOwned && e.radioOwner == id,
		PendingRequest:  in.pending != nil,
		PendingRollback: in.pendingRollback,
		Timers:          in.timers,
	}
	if in.previous != nil {
		p := *in.previous
		st.Previous = &p
	}
	if in.announce != nil {
		st.AnnounceRounds = in.announce.count
	}
	return st, true
}

// NetworkData returns the network data synchronizer of interface id.
func (e *Engine) NetworkData(id link.InterfaceID) (*netdata.Synchronizer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	in, ok := e.ifaces[id]
	if !ok {
		return nil, false
	}
	return in.netdata, true
}

// Interfaces returns the number of registered interfaces.
func (e *Engine) Interfaces() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ifaces)
}

func (e *Engine) acquireRadio(in *iface) bool {
	if e.radioOwned && e.radioOwner != in.id {
		return false
	}
	e.radioOwned = true
	e.radioOwner = in.id
	return true
}

func (e *Engine) releaseRadio(in *iface) {
	if e.radioOwned && e.radioOwner == in.id {
		e.radioOwned = false
	}
}
