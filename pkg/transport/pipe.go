package transport

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// LinkCondition degrades a Pipe the way a noisy 802.15.4 channel would.
// The zero value is a perfect link.
type LinkCondition struct {
	// Loss is the probability a frame is lost, 0 to 1.
	Loss float64

	// Latency delays every frame. Jitter adds a uniform extra delay in
	// [0, Jitter).
	Latency time.Duration
	Jitter  time.Duration

	// Duplicate is the probability a frame arrives twice, 0 to 1.
	Duplicate float64
}

func (c LinkCondition) perfect() bool {
	return c.Loss <= 0 && c.Latency <= 0 && c.Jitter <= 0 && c.Duplicate <= 0
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// Manual disables the background pump. Frames then move only on
	// Deliver or Drain.
	Manual bool

	// Interval is the pump period. Default: 1ms.
	Interval time.Duration

	// Seed makes loss and jitter reproducible. Zero seeds from the clock.
	Seed uint64

	Condition LinkCondition

	LoggerFactory logging.LoggerFactory
}

// PipeStats counts frames written into a Pipe.
type PipeStats struct {
	Written    uint64
	Lost       uint64
	Duplicated uint64
}

// Pipe is a two-node radio link held in memory, built on pion's test
// bridge. Frames written on one end are read on the other.
type Pipe struct {
	bridge *test.Bridge
	log    logging.LeveledLogger

	mu     sync.Mutex
	cond   LinkCondition
	rng    *rand.Rand
	closed bool

	stop    chan struct{}
	pump    sync.WaitGroup
	delayed sync.WaitGroup

	written    atomic.Uint64
	lost       atomic.Uint64
	duplicated atomic.Uint64
}

// NewPipe returns a perfect link with the background pump running.
func NewPipe() *Pipe {
	return NewPipeWithConfig(PipeConfig{})
}

// NewPipeWithConfig returns a link configured by config.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	p := &Pipe{
		bridge: test.NewBridge(),
		cond:   config.Condition,
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
		stop:   make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("pipe")
	}
	if !config.Manual {
		interval := config.Interval
		if interval <= 0 {
			interval = time.Millisecond
		}
		p.pump.Add(1)
		go p.run(interval)
	}
	return p
}

func (p *Pipe) run(interval time.Duration) {
	defer p.pump.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.Drain()
		}
	}
}

// SetCondition replaces the link condition for frames written from now on.
func (p *Pipe) SetCondition(cond LinkCondition) {
	p.mu.Lock()
	p.cond = cond
	p.mu.Unlock()
}

// Condition returns the current link condition.
func (p *Pipe) Condition() LinkCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cond
}

// Stats returns the frame counters.
func (p *Pipe) Stats() PipeStats {
	return PipeStats{
		Written:    p.written.Load(),
		Lost:       p.lost.Load(),
		Duplicated: p.duplicated.Load(),
	}
}

// Deliver moves at most one queued frame in each direction and reports how
// many moved.
func (p *Pipe) Deliver() int {
	return p.bridge.Tick()
}

// Drain delivers every queued frame.
func (p *Pipe) Drain() int {
	total := 0
	for n := p.bridge.Tick(); n > 0; n = p.bridge.Tick() {
		total += n
	}
	return total
}

// Close stops the pump, waits for delayed frames and closes both ends.
// Closing twice is a no-op.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	p.pump.Wait()
	p.delayed.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if p.log != nil {
		s := p.Stats()
		p.log.Debugf("closed: written=%d lost=%d duplicated=%d", s.Written, s.Lost, s.Duplicated)
	}
	if err0 != nil {
		return err0
	}
	return err1
}

// fate rolls the condition for one frame.
func (p *Pipe) fate() (lost bool, copies int, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.cond
	if c.perfect() {
		return false, 1, 0
	}
	if c.Loss > 0 && p.rng.Float64() < c.Loss {
		return true, 0, 0
	}
	copies = 1
	if c.Duplicate > 0 && p.rng.Float64() < c.Duplicate {
		copies = 2
	}
	delay = c.Latency
	if c.Jitter > 0 {
		delay += time.Duration(p.rng.Int64N(int64(c.Jitter)))
	}
	return false, copies, delay
}

func (p *Pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PipeAddr is the address of one end of a Pipe.
type PipeAddr struct {
	ID   int
	Port int
}

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

// PipePacketConn is one end of a Pipe seen as a net.PacketConn. There is a
// single peer, so WriteTo ignores its address.
type PipePacketConn struct {
	pipe  *Pipe
	conn  net.Conn
	local PipeAddr
	peer  PipeAddr
}

// PacketConns returns both ends of the pipe bound to the logical port.
func (p *Pipe) PacketConns(port int) (*PipePacketConn, *PipePacketConn) {
	a := PipeAddr{ID: 0, Port: port}
	b := PipeAddr{ID: 1, Port: port}
	return &PipePacketConn{pipe: p, conn: p.bridge.GetConn0(), local: a, peer: b},
		&PipePacketConn{pipe: p, conn: p.bridge.GetConn1(), local: b, peer: a}
}

func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peer, err
}

// WriteTo queues b for the peer. Lost frames still report success, as a
// radio would.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	p := c.pipe
	p.written.Add(1)
	lost, copies, delay := p.fate()
	if lost {
		p.lost.Add(1)
		return len(b), nil
	}
	if copies > 1 {
		p.duplicated.Add(1)
	}
	if delay <= 0 {
		for range copies {
			if _, err := c.conn.Write(b); err != nil {
				return 0, err
			}
		}
		return len(b), nil
	}

	if p.isClosed() {
		return 0, net.ErrClosed
	}
	frame := append([]byte(nil), b...)
	p.delayed.Add(1)
	time.AfterFunc(delay, func() {
		defer p.delayed.Done()
		for range copies {
			if _, err := c.conn.Write(frame); err != nil {
				return
			}
		}
	})
	return len(b), nil
}

func (c *PipePacketConn) Close() error                       { return c.conn.Close() }
func (c *PipePacketConn) LocalAddr() net.Addr                { return c.local }
func (c *PipePacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *PipePacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*PipePacketConn)(nil)

// NewUDPPair joins two unstarted UDP links over a new Pipe.
func NewUDPPair(handler0, handler1 MessageHandler) (*UDP, *UDP, *Pipe, error) {
	p := NewPipe()
	c0, c1 := p.PacketConns(ManagementPort)

	u0, err := NewUDP(UDPConfig{Conn: c0, MessageHandler: handler0})
	if err != nil {
		_ = p.Close()
		return nil, nil, nil, err
	}
	u1, err := NewUDP(UDPConfig{Conn: c1, MessageHandler: handler1})
	if err != nil {
		_ = p.Close()
		return nil, nil, nil, err
	}
	return u0, u1, p, nil
}
