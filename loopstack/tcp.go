package loopstack

import (
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
	"github.com/chepo92/inet/internal"
)

// tcpPCB is one end of an in-memory stream connection, or a listener.
// Data written by one end sits in its transmit ring until the peer's
// receive callback accepts it; acceptance doubles as acknowledgement
// and fires the sent callback. Refused segments stay in the ring and
// are retried when the peer reports consumed bytes.
type tcpPCB struct {
	n         *Net
	listening bool
	local     netip.AddrPort
	remote    netip.AddrPort
	peer      *tcpPCB

	backlog    int
	pendingEst int // established, not yet consumed by Accepted
	acceptFn   func(inet.TCPConn) bool

	recvFn func(*inet.Packet) bool
	sentFn func(int)

	txbuf    internal.Ring
	flushing bool
	closing  bool // local close requested; EOF owed to peer
	finSent  bool
	closed   bool
}

var _ inet.TCPConn = (*tcpPCB)(nil)

func (pcb *tcpPCB) Bind(local netip.AddrPort) error {
	if pcb.closed || pcb.listening {
		return errClosed
	}
	if local.Port() == 0 {
		local = netip.AddrPortFrom(local.Addr(), pcb.n.nextEphemeral())
	}
	for _, l := range pcb.n.listeners {
		if l.local.Port() == local.Port() {
			return errAddrInUse
		}
	}
	pcb.local = local
	return nil
}

// Listen returns a fresh listening control block; the receiver handle
// is dead afterwards. Mirrors stacks whose listen transition swaps the
// block for a smaller one.
func (pcb *tcpPCB) Listen(backlog int) (inet.TCPConn, error) {
	if pcb.closed || pcb.listening || pcb.peer != nil {
		return nil, errClosed
	}
	if pcb.local.Port() == 0 {
		return nil, errNotBound
	}
	l := &tcpPCB{
		n:         pcb.n,
		listening: true,
		local:     pcb.local,
		backlog:   backlog,
	}
	pcb.n.listeners = append(pcb.n.listeners, l)
	pcb.closed = true
	pcb.n.trace("tcp:listen", slog.String("local", l.local.String()), slog.Int("backlog", backlog))
	return l, nil
}

func (pcb *tcpPCB) findListener(to netip.AddrPort) *tcpPCB {
	if !pcb.n.local(to.Addr()) {
		return nil
	}
	for _, l := range pcb.n.listeners {
		if l.local.Port() == to.Port() {
			return l
		}
	}
	return nil
}

func (pcb *tcpPCB) Connect(remote netip.AddrPort, done func(error)) error {
	if pcb.closed || pcb.listening {
		return errClosed
	}
	if pcb.peer != nil {
		return errAlreadyConnected
	}
	if pcb.local.Port() == 0 {
		pcb.local = netip.AddrPortFrom(pcb.n.addr, pcb.n.nextEphemeral())
	}
	l := pcb.findListener(remote)
	if l == nil || l.acceptFn == nil {
		pcb.n.trace("tcp:connect-refused", slog.String("remote", remote.String()))
		done(inet.ErrRefused)
		return nil
	}
	limit := l.backlog
	if limit < 1 {
		limit = 1
	}
	if l.pendingEst >= limit {
		pcb.n.trace("tcp:backlog-full", slog.String("local", l.local.String()))
		done(inet.ErrRefused)
		return nil
	}
	srv := &tcpPCB{
		n:      pcb.n,
		local:  netip.AddrPortFrom(pcb.n.addr, l.local.Port()),
		remote: pcb.local,
		peer:   pcb,
	}
	srv.txbuf.Reset(pcb.n.sendBufSize)
	pcb.peer = srv
	pcb.remote = srv.local
	if !l.acceptFn(srv) {
		pcb.peer = nil
		pcb.remote = netip.AddrPort{}
		srv.closed = true
		done(inet.ErrRefused)
		return nil
	}
	l.pendingEst++
	pcb.n.trace("tcp:established", slog.String("client", pcb.local.String()), slog.String("server", srv.local.String()))
	done(nil)
	return nil
}

func (pcb *tcpPCB) Accepted() {
	if pcb.listening && pcb.pendingEst > 0 {
		pcb.pendingEst--
	}
}

func (pcb *tcpPCB) SendBufAvail() int {
	if pcb.closed || pcb.closing {
		return 0
	}
	return pcb.txbuf.Free()
}

func (pcb *tcpPCB) Write(p []byte) error {
	if pcb.closed || pcb.closing {
		return errClosed
	}
	_, err := pcb.txbuf.Write(p)
	return err
}

func (pcb *tcpPCB) Flush() error {
	if pcb.peer == nil {
		return nil
	}
	pcb.flushTx()
	return nil
}

// flushTx drains the transmit ring toward the peer in MSS-sized
// segments, acknowledging whatever the peer accepts. Reentrant calls
// (the sent callback writing more data, or the peer's window update
// arriving mid-drain) fold into the running drain.
func (pcb *tcpPCB) flushTx() {
	if pcb.flushing || pcb.peer == nil {
		return
	}
	pcb.flushing = true
	defer func() { pcb.flushing = false }()
	for {
		acked := 0
		for pcb.txbuf.Buffered() > 0 {
			seg := pcb.n.segbuf
			nseg, _ := pcb.txbuf.ReadPeek(seg)
			pkt := inet.NewPacket(seg[:nseg])
			pcb.n.cap.tcp(pcb.local, pcb.remote, seg[:nseg])
			if !pcb.peer.deliverData(pkt) {
				pkt.Free()
				break
			}
			pcb.txbuf.ReadDiscard(nseg)
			acked += nseg
		}
		if acked == 0 {
			break
		}
		pcb.n.trace("tcp:acked", slog.Int("n", acked), slog.String("local", pcb.local.String()))
		if pcb.sentFn != nil {
			pcb.sentFn(acked)
		}
		// The sent callback may have queued more data; drain again.
	}
	if pcb.closing && !pcb.finSent && pcb.txbuf.Buffered() == 0 {
		if pcb.peer.deliverEOF() {
			pcb.finSent = true
		}
	}
}

// deliverData offers one segment to this end's receive callback.
// Reports false when the receiver cannot take it; the segment then
// stays queued at the sender.
func (pcb *tcpPCB) deliverData(pkt *inet.Packet) bool {
	if pcb.closed {
		pkt.Free() // Receiver gone; blackhole.
		return true
	}
	if pcb.recvFn == nil {
		return false
	}
	return pcb.recvFn(pkt)
}

func (pcb *tcpPCB) deliverEOF() bool {
	if pcb.closed {
		return true
	}
	if pcb.recvFn == nil {
		return false
	}
	return pcb.recvFn(nil)
}

// Recved opens the receive window: the peer retries queued segments
// and any owed EOF.
func (pcb *tcpPCB) Recved(int) {
	if pcb.peer != nil {
		pcb.peer.flushTx()
	}
}

// OnRecv registers fn and, when a real receiver appears, kicks the
// peer so segments refused while no receiver was bound get redelivered.
func (pcb *tcpPCB) OnRecv(fn func(*inet.Packet) bool) {
	pcb.recvFn = fn
	if fn != nil && pcb.peer != nil {
		pcb.peer.flushTx()
	}
}

func (pcb *tcpPCB) OnSent(fn func(int)) {
	pcb.sentFn = fn
}

func (pcb *tcpPCB) OnAccept(fn func(inet.TCPConn) bool) {
	pcb.acceptFn = fn
}

func (pcb *tcpPCB) LocalAddr() netip.AddrPort { return pcb.local }

func (pcb *tcpPCB) RemoteAddr() netip.AddrPort { return pcb.remote }

// Close drains queued data, owes the peer an EOF and detaches the
// callbacks. The control block lingers internally until the EOF lands.
func (pcb *tcpPCB) Close() error {
	if pcb.closed {
		return errClosed
	}
	if pcb.listening {
		pcb.unlisten()
		pcb.closed = true
		return nil
	}
	if pcb.peer == nil {
		pcb.closed = true
		return nil
	}
	pcb.closing = true
	pcb.flushTx()
	return nil
}

// Abort drops the connection without draining or notifying in order;
// the peer observes an immediate EOF.
func (pcb *tcpPCB) Abort() {
	if pcb.closed {
		return
	}
	if pcb.listening {
		pcb.unlisten()
	} else if pcb.peer != nil && !pcb.finSent {
		pcb.closing = true
		if pcb.peer.deliverEOF() {
			pcb.finSent = true
		}
	}
	pcb.closed = true
	pcb.recvFn = nil
	pcb.sentFn = nil
}

func (pcb *tcpPCB) unlisten() {
	for i, l := range pcb.n.listeners {
		if l == pcb {
			pcb.n.listeners = append(pcb.n.listeners[:i], pcb.n.listeners[i+1:]...)
			break
		}
	}
}
