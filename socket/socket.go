// Package socket adapts an event-driven, single-goroutine embedded IP
// stack to a blocking, per-caller-goroutine socket API.
//
// Every operation posts a closure onto the stack's run loop and parks
// the caller on the socket's rendezvous baton. The closure either
// completes on the loop and wakes the caller directly, or arms a wait
// state on the socket; a later stack callback (recv, sent-ack, accept,
// connect-done) completes the operation and performs the wake. All
// protocol control block access and all socket wait/rx bookkeeping
// happens on the loop goroutine only.
package socket

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/chepo92/inet"
	"github.com/chepo92/inet/channel"
	"github.com/chepo92/inet/internal"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	errNilNetwork = errors.New("inet/socket: nil Network in config")
	errNilLoop    = errors.New("inet/socket: nil Loop in config")
	errNoRemote   = errors.New("no remote address")
	// ErrOpNotSupported is returned when an operation does not apply to
	// the socket's type, such as Bind on a raw socket.
	ErrOpNotSupported = errors.New("inet/socket: operation not supported for socket type")
)

// Stack ties a [inet.Network] implementation, its run [inet.Loop] and
// the byte counters into the blocking socket façade.
type Stack struct {
	loop  *inet.Loop
	net   inet.Network
	stats *Stats
	logger
}

// Config configures a [Stack].
type Config struct {
	// Network is the embedded IP stack. Required.
	Network inet.Network
	// Loop is the stack's run loop. Required; it must be the loop the
	// Network fires its callbacks on.
	Loop *inet.Loop
	// Logger receives per-operation trace logging. Optional.
	Logger *slog.Logger
	// Metrics, when non-nil, receives the socket byte counters.
	// Registration is idempotent across repeated Reset calls.
	Metrics prometheus.Registerer
}

// Reset initializes the stack. Calling Reset again with the same
// counters registered is a no-op with respect to registration.
func (stk *Stack) Reset(cfg Config) error {
	if cfg.Network == nil {
		return errNilNetwork
	}
	if cfg.Loop == nil {
		return errNilLoop
	}
	stk.loop = cfg.Loop
	stk.net = cfg.Network
	stk.logger.log = cfg.Logger
	if stk.stats == nil {
		stk.stats = NewStats()
	}
	if cfg.Metrics != nil {
		if err := stk.stats.Register(cfg.Metrics); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the stack's counters.
func (stk *Stack) Stats() *Stats { return stk.stats }

type waitState uint8

const (
	waitIdle waitState = iota
	waitRecv
	waitAccept
	waitSend
)

// Argument records point into the parked caller's frame. They are valid
// for exactly as long as that caller stays parked; the blocking façade
// guarantees every callback that dereferences them runs before the
// caller resumes.
type sendArgs struct {
	buf  []byte
	size int // original request size
	left int // bytes not yet handed to the stack
}

type recvArgs struct {
	buf  []byte
	size int // capacity of buf
	left int // bytes still to fill (stream)
	from netip.AddrPort
}

type acceptArgs struct {
	out  *Socket
	peer netip.AddrPort
}

// Socket is a blocking socket. The zero value is unopened; callers own
// the storage and initialize it with one of the Open methods. A socket
// supports at most one in-flight blocking call at a time.
type Socket struct {
	stk *Stack
	typ inet.SocketType

	udp inet.UDPConn
	tcp inet.TCPConn
	raw inet.RawConn

	baton internal.Baton

	// Loop-owned state: touched only on the run loop.
	state waitState
	sargs *sendArgs
	rargs *recvArgs
	aargs *acceptArgs

	rxPkt  *inet.Packet
	rxLeft int // bytes left in rxPkt; -1 on a stream encodes peer closed
	rxFrom netip.AddrPort

	pendingAccept inet.TCPConn

	poller *channel.Poller

	// held mirrors the rx slot's byte count for cross-context Size reads.
	held atomic.Int64
}

var _ channel.Pollable = (*Socket)(nil)

// Type returns the socket's type tag. Invalid until opened.
func (s *Socket) Type() inet.SocketType { return s.typ }

// dispatch posts fn onto the run loop and parks the caller until fn or
// a later stack callback supplies a completion.
func (s *Socket) dispatch(fn func()) (int, error) {
	s.stk.loop.Post(fn)
	return s.baton.Park()
}

// wake resumes the parked caller. Loop context only.
func (s *Socket) wake(n int, err error) {
	s.baton.Wake(n, err)
}

// pollWake resumes the registered poll waiter, if any. Called on
// inbound arrival when no primary caller is parked. Loop context only.
func (s *Socket) pollWake() {
	if s.poller != nil {
		s.poller.Wake(s)
	}
}

func (s *Socket) setHeld(n int) {
	s.held.Store(int64(n))
}

// open asserts the socket is fresh and binds it to stk.
func (s *Socket) open(stk *Stack) {
	if s == nil {
		panic("nil socket")
	}
	if s.typ != inet.SocketInvalid {
		panic("socket already open")
	}
	if stk == nil || stk.net == nil {
		panic("socket stack not initialized")
	}
	s.stk = stk
	s.baton.Init()
}

// Close tears the socket down: callbacks are unhooked and the protocol
// control block removed. Close is best-effort and always succeeds on an
// open socket. Closing a socket with a parked call in flight is
// undefined; callers must not race Close against an outstanding
// operation.
func (s *Socket) Close() error {
	if s == nil || s.typ == inet.SocketInvalid {
		panic("close of unopened socket")
	}
	typ := s.typ
	s.dispatch(func() {
		switch typ {
		case inet.SocketDgram:
			s.udp.OnRecv(nil)
			s.udp.Close()
		case inet.SocketStream:
			s.tcp.OnRecv(nil)
			s.tcp.OnSent(nil)
			s.tcp.OnAccept(nil)
			s.tcp.Close()
			if s.pendingAccept != nil {
				s.pendingAccept.Abort()
				s.pendingAccept = nil
			}
		case inet.SocketRaw:
			s.raw.OnRecv(nil)
			s.raw.Close()
		}
		if s.rxPkt != nil {
			s.rxPkt.Free()
			s.rxPkt = nil
		}
		s.reset()
		s.wake(0, nil)
	})
	s.trace("socket:close", slog.String("type", typ.String()))
	return nil
}

// reset clears per-connection state so the storage can be reopened.
// Loop context only. The baton is kept: the closing caller is still
// parked on it.
func (s *Socket) reset() {
	s.typ = inet.SocketInvalid
	s.udp = nil
	s.tcp = nil
	s.raw = nil
	s.state = waitIdle
	s.sargs = nil
	s.rargs = nil
	s.aargs = nil
	s.rxLeft = 0
	s.rxFrom = netip.AddrPort{}
	s.poller = nil
	s.setHeld(0)
}

// Bind binds the socket to a local address. Valid for stream and
// datagram sockets.
func (s *Socket) Bind(local netip.AddrPort) error {
	switch s.typ {
	case inet.SocketDgram:
		_, err := s.dispatch(func() {
			s.wake(0, s.udp.Bind(local))
		})
		return err
	case inet.SocketStream:
		_, err := s.dispatch(func() {
			s.wake(0, s.tcp.Bind(local))
		})
		return err
	}
	return ErrOpNotSupported
}

// Connect establishes the remote endpoint. On a datagram socket it
// fixes the destination used by send calls with no remote; on a stream
// socket it performs the active open and blocks until the handshake
// concludes.
func (s *Socket) Connect(remote netip.AddrPort) error {
	switch s.typ {
	case inet.SocketDgram:
		_, err := s.dispatch(func() {
			s.wake(0, s.udp.Connect(remote))
		})
		return err
	case inet.SocketStream:
		return s.streamConnect(remote)
	}
	return ErrOpNotSupported
}

// ConnectHostname is the documented hostname-based connect surface.
// Name resolution on the stack's run loop is not integrated; the call
// always fails with [inet.ErrHostnameUnsupported].
func (s *Socket) ConnectHostname(host string, port uint16) error {
	if s.typ != inet.SocketStream {
		return ErrOpNotSupported
	}
	return inet.ErrHostnameUnsupported
}

// Listen transitions a bound stream socket into a listener. The
// underlying protocol control block handle may be replaced by the
// stack; the socket adopts whichever handle the stack returns.
func (s *Socket) Listen(backlog int) error {
	if backlog < 0 {
		panic("negative listen backlog")
	}
	if s.typ != inet.SocketStream {
		return ErrOpNotSupported
	}
	return s.streamListen(backlog)
}

// Accept blocks until an incoming connection is available and adopts
// it into out, which must be an unopened socket owned by the caller.
// It returns the peer's address.
func (s *Socket) Accept(out *Socket) (netip.AddrPort, error) {
	if s.typ != inet.SocketStream {
		return netip.AddrPort{}, ErrOpNotSupported
	}
	if out == nil {
		panic("nil accept target socket")
	}
	if out.typ != inet.SocketInvalid {
		panic("accept target socket already open")
	}
	return s.streamAccept(out)
}

// SendTo sends p to remote. A datagram socket sends one datagram; an
// invalid remote sends to the connected destination. A stream socket
// ignores remote and blocks until all of p is handed to the stack,
// chunking across send-buffer back-pressure. A raw socket sends p as
// one raw IP payload to remote's address.
func (s *Socket) SendTo(p []byte, remote netip.AddrPort) (int, error) {
	if len(p) == 0 {
		panic("send of empty buffer")
	}
	switch s.typ {
	case inet.SocketDgram:
		return s.dgramSendTo(p, remote)
	case inet.SocketStream:
		return s.streamSend(p)
	case inet.SocketRaw:
		return s.rawSendTo(p, remote.Addr())
	}
	return 0, ErrOpNotSupported
}

// RecvFrom blocks until inbound data is available and returns the
// transferred byte count and the source address. Datagram and raw
// sockets deliver at most one held packet, truncating silently; a
// stream socket blocks until len(p) bytes arrive or the peer closes,
// in which case the bytes delivered so far are returned with [io.EOF].
func (s *Socket) RecvFrom(p []byte) (int, netip.AddrPort, error) {
	if len(p) == 0 {
		panic("receive into empty buffer")
	}
	switch s.typ {
	case inet.SocketDgram, inet.SocketRaw:
		return s.dgramRecvFrom(p)
	case inet.SocketStream:
		n, err := s.streamRecv(p)
		return n, s.tcpRemote(), err
	}
	return 0, netip.AddrPort{}, ErrOpNotSupported
}

func (s *Socket) tcpRemote() netip.AddrPort {
	if s.tcp != nil {
		return s.tcp.RemoteAddr()
	}
	return netip.AddrPort{}
}

// Write implements [io.Writer] over SendTo with no remote.
func (s *Socket) Write(p []byte) (int, error) {
	return s.SendTo(p, netip.AddrPort{})
}

// Read implements [io.Reader] over RecvFrom, discarding the source.
func (s *Socket) Read(p []byte) (int, error) {
	n, _, err := s.RecvFrom(p)
	return n, err
}

// Size reports how many inbound bytes the socket currently holds; the
// poll layer uses a non-zero Size as the readiness test. On a datagram
// or raw socket a non-zero Size means a receive completes without
// blocking; a stream receive still blocks until its buffer is full or
// the peer closes.
func (s *Socket) Size() int {
	return int(s.held.Load())
}

// SetPoller registers p as the socket's readiness destination,
// implementing [channel.Pollable]. If the socket already holds inbound
// data the poller is woken immediately. Registration is asynchronous:
// it takes effect once the run loop processes it.
func (s *Socket) SetPoller(p *channel.Poller) {
	s.stk.loop.Post(func() {
		s.poller = p
		if p != nil && (s.rxPkt != nil || s.rxLeft == -1 || s.pendingAccept != nil) {
			p.Wake(s)
		}
	})
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}

func (s *Socket) trace(msg string, attrs ...slog.Attr) {
	if s.stk != nil {
		s.stk.logger.trace(msg, attrs...)
	}
}
