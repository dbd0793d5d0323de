package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// UDPConfig configures a UDP link.
type UDPConfig struct {
	// Conn replaces the socket, e.g. with one end of a Pipe.
	Conn net.PacketConn

	// ListenAddr is bound when Conn is nil. Default: ":0".
	ListenAddr string

	// Group is a multicast group joined on Interface, typically the
	// link-local all-nodes address. Ignored when Conn is set.
	Group net.Addr

	// Interface names the network interface the group is joined on. Empty
	// lets the system choose.
	Interface string

	// MessageHandler receives every datagram. Required.
	MessageHandler MessageHandler

	LoggerFactory logging.LoggerFactory
}

// UDPStats counts datagrams of a UDP link.
type UDPStats struct {
	Received uint64
	Sent     uint64
	// Dropped counts empty datagrams and those looped back from this link.
	Dropped uint64
}

// UDP is a Thread link carried over UDP. One read loop hands datagrams to
// the MessageHandler in arrival order.
type UDP struct {
	conn    net.PacketConn
	handler MessageHandler
	log     logging.LeveledLogger
	wg      sync.WaitGroup

	// self and locals filter our own multicast copies.
	self   *net.UDPAddr
	locals []net.IP

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewUDP binds the link. The read loop is not started.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}
	u := &UDP{conn: config.Conn, handler: config.MessageHandler}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("udp")
	}
	if u.conn != nil {
		return u, nil
	}

	addr := config.ListenAddr
	if addr == "" {
		addr = ":0"
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	u.conn = conn

	if config.Group != nil {
		if err := u.join(config.Group, config.Interface); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return u, nil
}

// join subscribes the socket to a multicast group with loopback disabled.
func (u *UDP) join(group net.Addr, ifname string) error {
	ga, ok := group.(*net.UDPAddr)
	if !ok || !ga.IP.IsMulticast() {
		return fmt.Errorf("%w: %v is not a multicast group", ErrInvalidAddress, group)
	}
	var ifi *net.Interface
	if ifname != "" {
		var err error
		if ifi, err = net.InterfaceByName(ifname); err != nil {
			return fmt.Errorf("transport: interface %s: %w", ifname, err)
		}
	}

	if ga.IP.To4() != nil {
		pc := ipv4.NewPacketConn(u.conn)
		if err := pc.JoinGroup(ifi, ga); err != nil {
			return fmt.Errorf("transport: join %v: %w", ga, err)
		}
		_ = pc.SetMulticastLoopback(false)
	} else {
		pc := ipv6.NewPacketConn(u.conn)
		if err := pc.JoinGroup(ifi, ga); err != nil {
			return fmt.Errorf("transport: join %v: %w", ga, err)
		}
		_ = pc.SetMulticastLoopback(false)
	}
	if la, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		u.self = la
		u.locals = localIPs()
	}
	if u.log != nil {
		u.log.Infof("joined %v", ga)
	}
	return nil
}

// Start runs the read loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case u.closed:
		return ErrClosed
	case u.started:
		return ErrAlreadyStarted
	}
	u.started = true

	if u.log != nil {
		u.log.Infof("link up on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Stop closes the socket and waits for the read loop.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	err := u.conn.Close()
	u.wg.Wait()
	if u.log != nil {
		s := u.Stats()
		u.log.Infof("link down: rx=%d tx=%d dropped=%d", s.Received, s.Sent, s.Dropped)
	}
	return err
}

// Send writes one datagram.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	u.mu.RLock()
	closed := u.closed
	u.mu.RUnlock()
	switch {
	case closed:
		return ErrClosed
	case addr == nil:
		return ErrInvalidAddress
	case len(data) > MaxMessageSize:
		return ErrMessageTooLarge
	}

	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("send to %v: %v", addr, err)
		}
		return err
	}
	u.sent.Add(1)
	if u.log != nil {
		u.log.Tracef("tx %d bytes to %v", len(data), addr)
	}
	return nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Stats returns the datagram counters.
func (u *UDP) Stats() UDPStats {
	return UDPStats{
		Received: u.received.Load(),
		Sent:     u.sent.Load(),
		Dropped:  u.dropped.Load(),
	}
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, MaxMessageSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			if u.log != nil {
				u.log.Warnf("read: %v", err)
			}
			continue
		}
		if n == 0 || u.fromSelf(addr) {
			u.dropped.Add(1)
			continue
		}
		u.received.Add(1)
		if u.log != nil {
			u.log.Tracef("rx %d bytes from %v", n, addr)
		}
		u.handler(&ReceivedMessage{Data: append([]byte(nil), buf[:n]...), Peer: addr})
	}
}

func (u *UDP) isClosed() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.closed
}

// fromSelf reports a multicast copy of our own datagram. Some stacks loop
// them back even with loopback disabled.
func (u *UDP) fromSelf(addr net.Addr) bool {
	if u.self == nil || u.self.Port == 0 {
		return false
	}
	ua, ok := addr.(*net.UDPAddr)
	if !ok || ua.Port != u.self.Port {
		return false
	}
	if !u.self.IP.IsUnspecified() {
		return ua.IP.Equal(u.self.IP)
	}
	for _, ip := range u.locals {
		if ip.Equal(ua.IP) {
			return true
		}
	}
	return false
}

func localIPs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok {
			ips = append(ips, n.IP)
		}
	}
	return ips
}

var _ Sender = (*UDP)(nil)
