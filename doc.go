// Package inet holds the shared definitions of the blocking socket
// layer: the data unit exchanged with an embedded IP stack ([Packet]),
// the stack's execution context ([Loop]) and the boundary interfaces a
// stack implements ([Network], [UDPConn], [TCPConn], [RawConn]).
//
// The blocking call surface lives in [github.com/chepo92/inet/socket];
// an in-memory stack for tests and demos lives in
// [github.com/chepo92/inet/loopstack].
package inet
