package socket

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Counter paths as exposed to the embedder's filesystem-like counter
// namespace. Each resolves to a prometheus counter via [Stats.Value].
const (
	PathUDPRxBytes = "/inet/socket/udp/rx_bytes"
	PathUDPTxBytes = "/inet/socket/udp/tx_bytes"
	PathTCPAccepts = "/inet/socket/tcp/accepts"
	PathTCPRxBytes = "/inet/socket/tcp/rx_bytes"
	PathTCPTxBytes = "/inet/socket/tcp/tx_bytes"
	PathRawRxBytes = "/inet/socket/raw/rx_bytes"
	PathRawTxBytes = "/inet/socket/raw/tx_bytes"
)

// Stats holds the socket layer's byte counters. Counters are advisory:
// increments happen on the stack's run loop and are not atomic with
// respect to concurrent reads.
type Stats struct {
	udpRxBytes prometheus.Counter
	udpTxBytes prometheus.Counter
	tcpAccepts prometheus.Counter
	tcpRxBytes prometheus.Counter
	tcpTxBytes prometheus.Counter
	rawRxBytes prometheus.Counter
	rawTxBytes prometheus.Counter

	byPath map[string]prometheus.Counter
	once   sync.Once
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inet",
		Subsystem: "socket",
		Name:      name,
		Help:      help,
	})
}

// NewStats constructs the seven socket counters, unregistered.
func NewStats() *Stats {
	st := &Stats{
		udpRxBytes: newCounter("udp_rx_bytes_total", "Bytes delivered to applications over UDP sockets."),
		udpTxBytes: newCounter("udp_tx_bytes_total", "Bytes sent by applications over UDP sockets."),
		tcpAccepts: newCounter("tcp_accepts_total", "Connections delivered through Accept."),
		tcpRxBytes: newCounter("tcp_rx_bytes_total", "Bytes delivered to applications over TCP sockets."),
		tcpTxBytes: newCounter("tcp_tx_bytes_total", "Bytes sent by applications over TCP sockets."),
		rawRxBytes: newCounter("raw_rx_bytes_total", "Bytes delivered to applications over raw sockets."),
		rawTxBytes: newCounter("raw_tx_bytes_total", "Bytes sent by applications over raw sockets."),
	}
	st.byPath = map[string]prometheus.Counter{
		PathUDPRxBytes: st.udpRxBytes,
		PathUDPTxBytes: st.udpTxBytes,
		PathTCPAccepts: st.tcpAccepts,
		PathTCPRxBytes: st.tcpRxBytes,
		PathTCPTxBytes: st.tcpTxBytes,
		PathRawRxBytes: st.rawRxBytes,
		PathRawTxBytes: st.rawTxBytes,
	}
	return st
}

// Register registers the counters with r exactly once per Stats.
// Counters already present in r are left as-is, so repeated
// initialization of the module is a no-op.
func (st *Stats) Register(r prometheus.Registerer) (err error) {
	st.once.Do(func() {
		for _, c := range st.byPath {
			regErr := r.Register(c)
			var are prometheus.AlreadyRegisteredError
			if regErr != nil && !errors.As(regErr, &are) {
				err = regErr
				return
			}
		}
	})
	return err
}

// Value returns the current value of the counter at the given path,
// e.g. [PathUDPRxBytes]. ok is false for unknown paths.
func (st *Stats) Value(path string) (v uint64, ok bool) {
	c, ok := st.byPath[path]
	if !ok {
		return 0, false
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, false
	}
	return uint64(m.GetCounter().GetValue()), true
}
