// Package transport carries Thread management and MLE datagrams.
//
// UDP wraps a net.PacketConn with a read loop that hands each datagram to a
// MessageHandler, optionally joined to a multicast group so that broadcasts
// reach every node on the segment. Pipe provides an in-memory pair of packet
// connections built on pion's test bridge, with seeded loss, latency and
// duplication, so that two nodes can be wired together in tests without
// touching the network.
package transport
