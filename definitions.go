package inet

import "errors"

// SocketType discriminates the protocol adapter a [Socket]-like object
// dispatches to. It is fixed when the socket is opened.
type SocketType uint8

const (
	SocketInvalid SocketType = iota // invalid
	SocketStream                    // stream
	SocketDgram                     // dgram
	SocketRaw                       // raw
)

func (st SocketType) String() string {
	switch st {
	case SocketStream:
		return "stream"
	case SocketDgram:
		return "dgram"
	case SocketRaw:
		return "raw"
	}
	return "invalid"
}

// IPProto is an IANA assigned internet protocol number as found in the
// IPv4 header protocol field.
type IPProto uint8

const (
	IPProtoICMP IPProto = 1
	IPProtoTCP  IPProto = 6
	IPProtoUDP  IPProto = 17
)

// Generic errors shared by the façade and stack implementations.
var (
	// ErrRefused signals a peer or adapter rejected an incoming connection.
	ErrRefused = errors.New("inet: connection refused")
	// ErrRetryLater names the refusal of an inbound data unit that the
	// stack redelivers once the receiver has drained. Inbound callbacks
	// signal that refusal by returning false (see [TCPConn]); no function
	// in this module returns ErrRetryLater.
	ErrRetryLater = errors.New("inet: retry later")
	// ErrHostnameUnsupported is returned by hostname-based connect calls.
	// Name resolution on the stack's run loop is not implemented.
	ErrHostnameUnsupported = errors.New("inet: connect by hostname unsupported")
)
