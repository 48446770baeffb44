package inet

import "net/netip"

// Network is the constructor surface an embedded IP stack exposes to
// the socket layer. Implementations own all protocol state; every
// method of Network and of the conns it returns, and every callback
// registered on them, runs on the stack's [Loop] goroutine only.
//
// The stack itself (timers, checksums, routing, wire framing) is not
// this module's business; [github.com/chepo92/inet/loopstack] provides
// an in-memory implementation for tests and demos.
type Network interface {
	// NewUDP creates an unbound datagram protocol control block.
	NewUDP() (UDPConn, error)
	// NewTCP creates a closed stream protocol control block.
	NewTCP() (TCPConn, error)
	// NewRaw creates a raw protocol control block receiving and sending
	// payloads of the given IP protocol.
	NewRaw(proto IPProto) (RawConn, error)
}

// UDPConn is a datagram protocol control block.
type UDPConn interface {
	Bind(local netip.AddrPort) error
	// Connect fixes the remote address used by Send.
	Connect(remote netip.AddrPort) error
	// Send transmits pkt to the connected remote. The stack takes
	// ownership of pkt on success and failure alike.
	Send(pkt *Packet) error
	// SendTo transmits pkt to remote. Ownership as in Send.
	SendTo(pkt *Packet, remote netip.AddrPort) error
	// OnRecv registers the inbound callback. The callback owns pkt.
	// A nil fn unregisters.
	OnRecv(fn func(pkt *Packet, from netip.AddrPort))
	Close()
}

// TCPConn is a stream protocol control block. A freshly accepted conn
// delivered through the OnAccept callback is already established.
type TCPConn interface {
	Bind(local netip.AddrPort) error
	// Listen transitions the conn to the listening state with the given
	// backlog. The returned handle may differ from the receiver; callers
	// must use the returned handle from then on.
	Listen(backlog int) (TCPConn, error)
	// Connect starts an active open. done fires on the loop goroutine
	// once the handshake concludes, with nil on establishment. done is
	// never invoked when Connect itself returns an error.
	Connect(remote netip.AddrPort, done func(err error)) error
	// SendBufAvail reports how many bytes Write currently accepts.
	SendBufAvail() int
	// Write copies up to SendBufAvail bytes into the transmit queue.
	// Writing more than SendBufAvail is an error and queues nothing.
	Write(p []byte) error
	// Flush asks the stack to transmit queued data now.
	Flush() error
	// Recved reports n inbound bytes as consumed by the application,
	// opening the receive window.
	Recved(n int)
	// OnRecv registers the inbound segment callback. A nil pkt signals
	// the peer closed its half. Returning false refuses the segment (or
	// the close); the stack redelivers it later. On true the callback
	// owns pkt.
	OnRecv(fn func(pkt *Packet) bool)
	// OnSent registers the sent-acknowledgement callback, fired with the
	// byte count acknowledged by the peer.
	OnSent(fn func(n int))
	// OnAccept registers the incoming-connection callback of a listening
	// conn. Returning false refuses the connection.
	OnAccept(fn func(conn TCPConn) bool)
	// Accepted informs a listening conn that one pending connection was
	// consumed by the application, freeing backlog space.
	Accepted()
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
	Close() error
	// Abort drops the connection without the closing handshake.
	Abort()
}

// RawConn is a raw IP protocol control block. Raw conns carry no port;
// remotes are bare addresses.
type RawConn interface {
	// SendTo transmits pkt as the payload of an IP packet to remote.
	// The stack takes ownership of pkt.
	SendTo(pkt *Packet, remote netip.Addr) error
	// OnRecv registers the inbound callback. Returning true consumes the
	// packet and the callback owns pkt; on false the stack keeps it.
	OnRecv(fn func(pkt *Packet, from netip.Addr) bool)
	Close()
}
