package socket

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
)

// OpenRaw binds the unopened socket s to a fresh raw ICMP protocol
// control block on stk and registers its inbound callback. Raw sockets
// carry no port; remote addresses returned by RecvFrom have port 0.
func (s *Socket) OpenRaw(stk *Stack) error {
	s.open(stk)
	_, err := s.dispatch(func() {
		pcb, err := stk.net.NewRaw(inet.IPProtoICMP)
		if err != nil {
			s.wake(0, fmt.Errorf("inet/socket: open raw: %w", err))
			return
		}
		s.typ = inet.SocketRaw
		s.raw = pcb
		pcb.OnRecv(s.rawRecvCallback)
		s.wake(0, nil)
	})
	return err
}

// rawSendTo copies p into an IP-layer packet and hands it to the raw
// send primitive. Completes synchronously on the loop.
func (s *Socket) rawSendTo(p []byte, remote netip.Addr) (int, error) {
	return s.dispatch(func() {
		if !remote.IsValid() {
			s.wake(0, fmt.Errorf("inet/socket: raw send: %w", errNoRemote))
			return
		}
		pkt := inet.NewPacket(p)
		if err := s.raw.SendTo(pkt, remote); err != nil {
			s.wake(0, fmt.Errorf("inet/socket: raw send: %w", err))
			return
		}
		s.stk.stats.rawTxBytes.Add(float64(len(p)))
		s.wake(len(p), nil)
	})
}

// rawRecvCallback fires from the stack on raw packet arrival. The
// packet is always consumed: delivered, held, or dropped when the slot
// is occupied. Loop context only.
func (s *Socket) rawRecvCallback(pkt *inet.Packet, from netip.Addr) bool {
	if s.rxPkt != nil {
		s.stk.trace("raw:drop", slog.Int("len", pkt.Len()))
		pkt.Free()
		return true
	}
	s.rxFrom = netip.AddrPortFrom(from, 0)
	if s.state == waitRecv {
		s.dgramDeliver(pkt)
		return true
	}
	s.rxPkt = pkt
	s.rxLeft = pkt.Len()
	s.setHeld(pkt.Len())
	s.pollWake()
	return true
}
