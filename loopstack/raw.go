package loopstack

import (
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

type rawPCB struct {
	n      *Net
	proto  inet.IPProto
	recvFn func(*inet.Packet, netip.Addr) bool
	closed bool
}

var _ inet.RawConn = (*rawPCB)(nil)

func (pcb *rawPCB) SendTo(pkt *inet.Packet, remote netip.Addr) error {
	if pcb.closed {
		pkt.Free()
		return errClosed
	}
	pcb.n.cap.icmp(pcb.n.addr, remote, pkt.Bytes())
	if !pcb.n.local(remote) {
		pcb.n.trace("raw:unroutable", slog.String("to", remote.String()))
		pkt.Free()
		return nil
	}
	if pcb.n.echoReply {
		if reply := echoReply(pkt.Bytes()); reply != nil {
			// The responder consumes the request; only the reply is
			// visible to raw receivers, as if answered by the host.
			pkt.Free()
			pcb.n.cap.icmp(remote, pcb.n.addr, reply)
			pcb.n.deliverRaw(inet.NewPacket(reply), remote)
			return nil
		}
	}
	pcb.n.deliverRaw(pkt, pcb.n.addr)
	return nil
}

func (pcb *rawPCB) OnRecv(fn func(*inet.Packet, netip.Addr) bool) {
	pcb.recvFn = fn
}

func (pcb *rawPCB) Close() {
	pcb.closed = true
	pcb.recvFn = nil
	for i, other := range pcb.n.raws {
		if other == pcb {
			pcb.n.raws = append(pcb.n.raws[:i], pcb.n.raws[i+1:]...)
			break
		}
	}
}

// deliverRaw offers pkt to raw receivers until one consumes it.
func (n *Net) deliverRaw(pkt *inet.Packet, from netip.Addr) {
	for _, pcb := range n.raws {
		if pcb.recvFn == nil {
			continue
		}
		if pcb.recvFn(pkt, from) {
			return
		}
	}
	n.trace("raw:drop", slog.Int("len", pkt.Len()))
	pkt.Free()
}

// echoReply returns the marshaled ICMPv4 echo reply for an echo
// request payload, or nil when b is not an echo request.
func echoReply(b []byte) []byte {
	msg, err := icmp.ParseMessage(int(inet.IPProtoICMP), b)
	if err != nil || msg.Type != ipv4.ICMPTypeEcho {
		return nil
	}
	reply := icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Code: 0,
		Body: msg.Body,
	}
	wb, err := reply.Marshal(nil)
	if err != nil {
		return nil
	}
	return wb
}
