package loopstack

import (
	"io"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// capture writes routed traffic as a pcap stream of synthesized IPv4
// packets. A nil *capture is a disabled capture; all methods no-op.
type capture struct {
	w *pcapgo.Writer
}

func newCapture(w io.Writer) (*capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeIPv4); err != nil {
		return nil, err
	}
	return &capture{w: pw}, nil
}

func (c *capture) udp(src, dst netip.AddrPort, payload []byte) {
	if c == nil {
		return
	}
	ip := c.ipLayer(src.Addr(), dst.Addr(), layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	udp.SetNetworkLayerForChecksum(ip)
	c.write(ip, udp, gopacket.Payload(payload))
}

func (c *capture) tcp(src, dst netip.AddrPort, payload []byte) {
	if c == nil {
		return
	}
	ip := c.ipLayer(src.Addr(), dst.Addr(), layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	tcp.SetNetworkLayerForChecksum(ip)
	c.write(ip, tcp, gopacket.Payload(payload))
}

func (c *capture) icmp(src, dst netip.Addr, payload []byte) {
	if c == nil {
		return
	}
	ip := c.ipLayer(src, dst, layers.IPProtocolICMPv4)
	c.write(ip, gopacket.Payload(payload))
}

func (c *capture) ipLayer(src, dst netip.Addr, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
}

func (c *capture) write(ls ...gopacket.SerializableLayer) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return
	}
	data := buf.Bytes()
	c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}
