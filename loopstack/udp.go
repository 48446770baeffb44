package loopstack

import (
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
)

type udpPCB struct {
	n      *Net
	local  netip.AddrPort
	remote netip.AddrPort // set by Connect; filters inbound and targets Send
	recvFn func(*inet.Packet, netip.AddrPort)
	closed bool
}

var _ inet.UDPConn = (*udpPCB)(nil)

func (pcb *udpPCB) Bind(local netip.AddrPort) error {
	if pcb.closed {
		return errClosed
	}
	if local.Port() == 0 {
		local = netip.AddrPortFrom(local.Addr(), pcb.n.nextEphemeral())
	}
	for _, other := range pcb.n.udp {
		if other != pcb && other.local.Port() == local.Port() && other.local.Addr() == local.Addr() {
			return errAddrInUse
		}
	}
	if !pcb.bound() {
		pcb.n.udp = append(pcb.n.udp, pcb)
	}
	pcb.local = local
	return nil
}

func (pcb *udpPCB) bound() bool { return pcb.local.Port() != 0 }

// autobind assigns an ephemeral port so replies have a source address.
func (pcb *udpPCB) autobind() error {
	if pcb.bound() {
		return nil
	}
	return pcb.Bind(netip.AddrPortFrom(pcb.n.addr, 0))
}

func (pcb *udpPCB) Connect(remote netip.AddrPort) error {
	if pcb.closed {
		return errClosed
	}
	pcb.remote = remote
	return pcb.autobind()
}

func (pcb *udpPCB) Send(pkt *inet.Packet) error {
	if !pcb.remote.IsValid() {
		pkt.Free()
		return errNotBound
	}
	return pcb.SendTo(pkt, pcb.remote)
}

func (pcb *udpPCB) SendTo(pkt *inet.Packet, remote netip.AddrPort) error {
	if pcb.closed {
		pkt.Free()
		return errClosed
	}
	if err := pcb.autobind(); err != nil {
		pkt.Free()
		return err
	}
	from := netip.AddrPortFrom(pcb.n.addr, pcb.local.Port())
	pcb.n.cap.udp(from, remote, pkt.Bytes())
	pcb.n.deliverUDP(pkt, from, remote)
	return nil
}

func (pcb *udpPCB) OnRecv(fn func(*inet.Packet, netip.AddrPort)) {
	pcb.recvFn = fn
}

func (pcb *udpPCB) Close() {
	pcb.closed = true
	pcb.recvFn = nil
	for i, other := range pcb.n.udp {
		if other == pcb {
			pcb.n.udp = append(pcb.n.udp[:i], pcb.n.udp[i+1:]...)
			break
		}
	}
}

// deliverUDP routes one datagram. Unroutable datagrams are dropped
// silently; delivery failure is not the sender's business.
func (n *Net) deliverUDP(pkt *inet.Packet, from, to netip.AddrPort) {
	if !n.local(to.Addr()) {
		n.trace("udp:unroutable", slog.String("to", to.String()))
		pkt.Free()
		return
	}
	for _, pcb := range n.udp {
		if pcb.local.Port() != to.Port() {
			continue
		}
		if !pcb.local.Addr().IsUnspecified() && !n.local(pcb.local.Addr()) {
			continue
		}
		if pcb.remote.IsValid() && pcb.remote != from {
			continue // Connected socket; not from its peer.
		}
		if pcb.recvFn == nil {
			break
		}
		n.trace("udp:deliver", slog.Int("len", pkt.Len()), slog.String("to", to.String()))
		pcb.recvFn(pkt, from)
		return
	}
	n.trace("udp:drop", slog.String("to", to.String()))
	pkt.Free()
}
