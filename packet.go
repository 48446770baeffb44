package inet

import "sync"

// Packet is a single inbound or outbound data unit exchanged with the
// stack: a datagram, a stream segment or a raw IP payload. Packets are
// pooled; ownership passes with the packet. Whoever holds a Packet
// must eventually either hand it onward or call [Packet.Free].
type Packet struct {
	buf []byte
}

var pktPool = sync.Pool{
	New: func() any { return new(Packet) },
}

// NewPacket returns a pooled packet holding a copy of payload.
func NewPacket(payload []byte) *Packet {
	pkt := pktPool.Get().(*Packet)
	pkt.buf = append(pkt.buf[:0], payload...)
	return pkt
}

// Bytes returns the packet payload. The slice is invalidated by Free.
func (pkt *Packet) Bytes() []byte { return pkt.buf }

// Len returns the total payload length.
func (pkt *Packet) Len() int { return len(pkt.buf) }

// Free returns the packet to the pool. The packet must not be used
// afterwards.
func (pkt *Packet) Free() {
	if pkt == nil {
		return
	}
	pkt.buf = pkt.buf[:0]
	pktPool.Put(pkt)
}
