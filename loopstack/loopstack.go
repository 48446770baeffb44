// Package loopstack implements the [inet.Network] boundary in memory
// for a single loopback host. It exists so the blocking socket layer
// can be exercised and demoed without hardware or a wire: datagrams,
// stream segments and raw ICMP packets are routed between protocol
// control blocks registered on the same Net.
//
// All methods and callbacks run on the Net's [inet.Loop] goroutine;
// loopstack performs no locking of its own.
package loopstack

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"

	"github.com/chepo92/inet"
	"github.com/chepo92/inet/internal"
)

const (
	defaultMSS         = 1460
	defaultSendBufSize = 8192
	ephemeralBase      = 49152
)

var (
	errUnsupportedProto = errors.New("loopstack: unsupported raw protocol")
	errAddrInUse        = errors.New("loopstack: address in use")
	errNotBound         = errors.New("loopstack: socket not bound")
	errAlreadyConnected = errors.New("loopstack: already connected")
	errClosed           = errors.New("loopstack: closed")
)

// Config configures a [Net].
type Config struct {
	// Loop is the run loop all stack activity happens on. Required.
	Loop *inet.Loop
	// Addr is the host address. Defaults to 127.0.0.1.
	Addr netip.Addr
	// MSS caps stream segment size. Defaults to 1460.
	MSS int
	// SendBufSize is the per-connection transmit ring capacity.
	// Defaults to 8192. Small values exercise chunked sends.
	SendBufSize int
	// EchoReply enables the ICMP echo responder: echo requests sent to
	// the host are consumed and answered with echo replies.
	EchoReply bool
	// Pcap, when non-nil, receives a pcap stream of all routed traffic.
	Pcap io.Writer
	// Logger receives routing trace logs. Optional.
	Logger *slog.Logger
}

// Net is an in-memory loopback network for one host address.
type Net struct {
	loop        *inet.Loop
	addr        netip.Addr
	mss         int
	sendBufSize int
	echoReply   bool

	udp       []*udpPCB
	listeners []*tcpPCB
	raws      []*rawPCB

	ephemeral uint16
	segbuf    []byte
	cap       *capture
	logger
}

var _ inet.Network = (*Net)(nil)

// Reset initializes the network.
func (n *Net) Reset(cfg Config) error {
	if cfg.Loop == nil {
		return errors.New("loopstack: nil Loop in config")
	}
	addr := cfg.Addr
	if !addr.IsValid() {
		addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	if !addr.Is4() {
		return errors.New("loopstack: require IPv4 host address")
	}
	mss := cfg.MSS
	if mss <= 0 {
		mss = defaultMSS
	}
	sbs := cfg.SendBufSize
	if sbs <= 0 {
		sbs = defaultSendBufSize
	}
	var cap *capture
	if cfg.Pcap != nil {
		var err error
		cap, err = newCapture(cfg.Pcap)
		if err != nil {
			return err
		}
	}
	*n = Net{
		loop:        cfg.Loop,
		addr:        addr,
		mss:         mss,
		sendBufSize: sbs,
		echoReply:   cfg.EchoReply,
		ephemeral:   ephemeralBase,
		segbuf:      make([]byte, mss),
		cap:         cap,
		logger:      logger{log: cfg.Logger},
	}
	return nil
}

// Loop returns the run loop the network was configured with.
func (n *Net) Loop() *inet.Loop { return n.loop }

// Addr returns the host address.
func (n *Net) Addr() netip.Addr { return n.addr }

// NewUDP implements [inet.Network].
func (n *Net) NewUDP() (inet.UDPConn, error) {
	return &udpPCB{n: n}, nil
}

// NewTCP implements [inet.Network].
func (n *Net) NewTCP() (inet.TCPConn, error) {
	pcb := &tcpPCB{n: n}
	pcb.txbuf.Reset(n.sendBufSize)
	return pcb, nil
}

// NewRaw implements [inet.Network]. Only ICMP is routed.
func (n *Net) NewRaw(proto inet.IPProto) (inet.RawConn, error) {
	if proto != inet.IPProtoICMP {
		return nil, errUnsupportedProto
	}
	pcb := &rawPCB{n: n, proto: proto}
	n.raws = append(n.raws, pcb)
	return pcb, nil
}

// local reports whether addr is deliverable on this host.
func (n *Net) local(addr netip.Addr) bool {
	return addr == n.addr || addr.IsLoopback() || addr.IsUnspecified()
}

func (n *Net) nextEphemeral() uint16 {
	n.ephemeral++
	if n.ephemeral == 0 {
		n.ephemeral = ephemeralBase
	}
	return n.ephemeral
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
