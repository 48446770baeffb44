package socket

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
)

// OpenUDP binds the unopened socket s to a fresh datagram protocol
// control block on stk and registers its inbound callback.
func (s *Socket) OpenUDP(stk *Stack) error {
	s.open(stk)
	_, err := s.dispatch(func() {
		pcb, err := stk.net.NewUDP()
		if err != nil {
			s.wake(0, fmt.Errorf("inet/socket: open udp: %w", err))
			return
		}
		s.typ = inet.SocketDgram
		s.udp = pcb
		pcb.OnRecv(s.dgramRecvCallback)
		s.wake(0, nil)
	})
	return err
}

// dgramSendTo copies p into a transport packet on the run loop and
// hands it to the stack. Datagram sends never block on back-pressure;
// they complete synchronously on the loop.
func (s *Socket) dgramSendTo(p []byte, remote netip.AddrPort) (int, error) {
	return s.dispatch(func() {
		pkt := inet.NewPacket(p)
		var err error
		if remote.IsValid() {
			err = s.udp.SendTo(pkt, remote)
		} else {
			err = s.udp.Send(pkt)
		}
		if err != nil {
			s.wake(0, fmt.Errorf("inet/socket: udp send: %w", err))
			return
		}
		s.stk.stats.udpTxBytes.Add(float64(len(p)))
		s.wake(len(p), nil)
	})
}

// dgramRecvFrom serves datagram and raw sockets: deliver the held
// packet if one is present, otherwise arm the receive wait.
func (s *Socket) dgramRecvFrom(p []byte) (int, netip.AddrPort, error) {
	args := &recvArgs{buf: p, size: len(p)}
	n, err := s.dispatch(func() {
		if s.rxPkt != nil {
			pkt := s.takeHeld()
			s.rargs = args
			s.dgramDeliver(pkt)
			return
		}
		s.rargs = args
		s.state = waitRecv
	})
	return n, args.from, err
}

// takeHeld moves the held packet out of the rx slot. The slot is
// cleared before anything frees the packet. Loop context only.
func (s *Socket) takeHeld() *inet.Packet {
	pkt := s.rxPkt
	s.rxPkt = nil
	s.rxLeft = 0
	s.setHeld(0)
	return pkt
}

// dgramDeliver copies pkt into the parked receiver's buffer, frees it
// and resumes the receiver. Datagram boundaries are preserved:
// oversize datagrams truncate silently and no tail survives. Loop
// context only; the caller has moved pkt out of the rx slot.
func (s *Socket) dgramDeliver(pkt *inet.Packet) {
	args := s.rargs
	n := copy(args.buf, pkt.Bytes())
	args.from = s.rxFrom
	pkt.Free()
	s.rargs = nil
	s.state = waitIdle
	if s.typ == inet.SocketRaw {
		s.stk.stats.rawRxBytes.Add(float64(n))
	} else {
		s.stk.stats.udpRxBytes.Add(float64(n))
	}
	s.wake(n, nil)
}

// dgramRecvCallback fires from the stack on datagram arrival. At most
// one packet is held; while the slot is occupied new arrivals are
// dropped. Loop context only.
func (s *Socket) dgramRecvCallback(pkt *inet.Packet, from netip.AddrPort) {
	if s.rxPkt != nil {
		s.stk.trace("udp:drop", slog.Int("len", pkt.Len()))
		pkt.Free()
		return
	}
	s.rxFrom = from
	if s.state == waitRecv {
		s.dgramDeliver(pkt)
		return
	}
	s.rxPkt = pkt
	s.rxLeft = pkt.Len()
	s.setHeld(pkt.Len())
	s.pollWake()
}
