package socket

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
)

// OpenTCP binds the unopened socket s to a fresh stream protocol
// control block on stk and registers its receive and
// sent-acknowledgement callbacks.
func (s *Socket) OpenTCP(stk *Stack) error {
	s.open(stk)
	_, err := s.dispatch(func() {
		pcb, err := stk.net.NewTCP()
		if err != nil {
			s.wake(0, fmt.Errorf("inet/socket: open tcp: %w", err))
			return
		}
		s.typ = inet.SocketStream
		s.tcp = pcb
		pcb.OnRecv(s.streamRecvCallback)
		pcb.OnSent(s.streamSentCallback)
		s.wake(0, nil)
	})
	return err
}

func (s *Socket) streamConnect(remote netip.AddrPort) error {
	_, err := s.dispatch(func() {
		err := s.tcp.Connect(remote, func(err error) {
			if err != nil {
				err = fmt.Errorf("inet/socket: tcp connect: %w", err)
			}
			s.wake(0, err)
		})
		if err != nil {
			s.wake(0, fmt.Errorf("inet/socket: tcp connect: %w", err))
		}
	})
	return err
}

func (s *Socket) streamListen(backlog int) error {
	_, err := s.dispatch(func() {
		lpcb, err := s.tcp.Listen(backlog)
		if err != nil {
			s.wake(0, fmt.Errorf("inet/socket: tcp listen: %w", err))
			return
		}
		// The stack may have replaced the handle; adopt whatever came back.
		s.tcp = lpcb
		lpcb.OnAccept(s.streamAcceptCallback)
		s.wake(0, nil)
	})
	return err
}

func (s *Socket) streamAccept(out *Socket) (netip.AddrPort, error) {
	args := &acceptArgs{out: out}
	_, err := s.dispatch(func() {
		s.aargs = args
		if s.pendingAccept != nil {
			s.acceptComplete()
			return
		}
		s.state = waitAccept
	})
	return args.peer, err
}

// acceptComplete adopts the pending connection into the accept target
// socket and resumes the accepting caller. Loop context only; requires
// a pending connection and an armed accept argument record.
func (s *Socket) acceptComplete() {
	pcb := s.pendingAccept
	s.pendingAccept = nil
	args := s.aargs
	s.aargs = nil
	s.state = waitIdle

	out := args.out
	out.stk = s.stk
	out.typ = inet.SocketStream
	out.tcp = pcb
	out.baton.Init()
	pcb.OnRecv(out.streamRecvCallback)
	pcb.OnSent(out.streamSentCallback)
	s.tcp.Accepted()
	args.peer = pcb.RemoteAddr()
	s.stk.stats.tcpAccepts.Inc()
	s.stk.trace("tcp:accept", slog.String("peer", args.peer.String()))
	s.wake(0, nil)
}

// streamAcceptCallback fires from the stack when a connection is
// established on the listener. One not-yet-accepted connection is held
// at most; further connections are refused back to the stack. Loop
// context only.
func (s *Socket) streamAcceptCallback(conn inet.TCPConn) bool {
	if s.pendingAccept != nil {
		return false
	}
	// No socket is bound to the connection until accept completion;
	// refuse any data the stack offers in the meantime.
	conn.OnRecv(func(*inet.Packet) bool { return false })
	s.pendingAccept = conn
	if s.state == waitAccept {
		s.acceptComplete()
		return true
	}
	s.pollWake()
	return true
}

func (s *Socket) streamSend(p []byte) (int, error) {
	args := &sendArgs{buf: p, size: len(p), left: len(p)}
	return s.dispatch(func() {
		s.sargs = args
		s.streamSendStep()
	})
}

// streamSendStep hands the next chunk to the stack, bounded by the
// stack's send-buffer availability. Completes the send when all bytes
// are queued, otherwise leaves the caller parked in the send-pending
// state for the sent-acknowledgement callback to continue. Loop
// context only.
func (s *Socket) streamSendStep() {
	args := s.sargs
	avail := s.tcp.SendBufAvail()
	n := min(args.left, avail)
	if n > 0 {
		off := args.size - args.left
		if err := s.tcp.Write(args.buf[off : off+n]); err != nil {
			s.sargs = nil
			s.state = waitIdle
			s.wake(0, fmt.Errorf("inet/socket: tcp write: %w", err))
			return
		}
		args.left -= n
	}
	if args.left == 0 {
		s.sargs = nil
		s.state = waitIdle
		s.tcp.Flush()
		s.stk.stats.tcpTxBytes.Add(float64(args.size))
		s.wake(args.size, nil)
		return
	}
	s.state = waitSend
	// Push what was queued so acknowledgements can free sendbuf space.
	s.tcp.Flush()
}

// streamSentCallback fires from the stack when previously-written
// bytes are acknowledged. Loop context only.
func (s *Socket) streamSentCallback(int) {
	if s.state != waitSend {
		return
	}
	s.streamSendStep()
}

func (s *Socket) streamRecv(p []byte) (int, error) {
	args := &recvArgs{buf: p, size: len(p), left: len(p)}
	n, err := s.dispatch(func() {
		if s.rxLeft == -1 {
			s.wake(0, io.EOF)
			return
		}
		s.rargs = args
		if s.rxPkt != nil {
			s.streamCopyStep()
			return
		}
		s.state = waitRecv
	})
	return n, err
}

// streamCopyStep moves bytes from the held segment into the parked
// receiver's buffer. A fully-consumed segment is reported to the stack
// for window management and freed; a fully-satisfied receive resumes
// the caller. Both, one or neither may happen per step. Loop context
// only; requires a held segment and an armed receive argument record.
func (s *Socket) streamCopyStep() {
	args := s.rargs
	pkt := s.rxPkt
	n := min(s.rxLeft, args.left)
	off := pkt.Len() - s.rxLeft
	dst := args.size - args.left
	copy(args.buf[dst:dst+n], pkt.Bytes()[off:off+n])
	s.rxLeft -= n
	args.left -= n

	// Settle the wait state before touching the stack: Recved may
	// deliver the next segment reentrantly.
	done := args.left == 0
	if done {
		s.rargs = nil
		s.state = waitIdle
	} else {
		s.state = waitRecv
	}
	if s.rxLeft == 0 {
		total := pkt.Len()
		s.rxPkt = nil
		s.setHeld(0)
		pkt.Free()
		s.tcp.Recved(total)
	} else {
		s.setHeld(s.rxLeft)
	}
	if done {
		s.stk.stats.tcpRxBytes.Add(float64(args.size))
		s.wake(args.size, nil)
	}
}

// streamRecvCallback fires from the stack on segment arrival. A nil
// pkt signals the peer closed its half. While a segment is held new
// arrivals are refused and redelivered by the stack later; that
// includes the close itself. Loop context only.
func (s *Socket) streamRecvCallback(pkt *inet.Packet) bool {
	if s.rxPkt != nil {
		return false
	}
	if pkt == nil {
		if s.rxLeft == -1 {
			return true // Already at EOF.
		}
		s.rxLeft = -1
		if s.state == waitRecv {
			args := s.rargs
			s.rargs = nil
			s.state = waitIdle
			n := args.size - args.left
			if n > 0 {
				s.stk.stats.tcpRxBytes.Add(float64(n))
			}
			s.wake(n, io.EOF)
		} else {
			s.pollWake()
		}
		return true
	}
	if s.rxLeft == -1 {
		pkt.Free() // Data after close; nothing will read it.
		return true
	}
	s.rxPkt = pkt
	s.rxLeft = pkt.Len()
	s.setHeld(pkt.Len())
	if s.state == waitRecv {
		s.streamCopyStep()
		return true
	}
	s.pollWake()
	return true
}
