package transport

import "net"

// Well-known Thread UDP ports.
const (
	// MLEPort carries mesh link establishment messages.
	MLEPort = 19788

	// ManagementPort carries Thread management (TMF) messages.
	ManagementPort = 61631
)

// MaxMessageSize is the IPv6 minimum MTU that Thread links guarantee.
const MaxMessageSize = 1280

// ReceivedMessage is one datagram read from the network.
type ReceivedMessage struct {
	// Data contains the raw datagram.
	Data []byte
	// Peer is the source address.
	Peer net.Addr
}

// MessageHandler is called for each received message.
// It runs on the read loop; slow handlers delay later datagrams.
type MessageHandler func(msg *ReceivedMessage)

// Sender writes datagrams to a peer.
type Sender interface {
	Send(data []byte, addr net.Addr) error
	LocalAddr() net.Addr
}

// ParseUDPAddr resolves a host:port string.
func ParseUDPAddr(addr string) (net.Addr, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return a, nil
}
