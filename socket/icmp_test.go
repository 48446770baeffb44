package socket_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func icmpEchoRequest(t *testing.T, seq int, data []byte) []byte {
	t.Helper()
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: 7, Seq: seq, Data: data},
	}
	b, err := msg.Marshal(nil)
	require.NoError(t, err)
	return b
}

func assertEchoReply(t *testing.T, b, wantData []byte) {
	t.Helper()
	msg, err := icmp.ParseMessage(1, b)
	require.NoError(t, err)
	require.Equal(t, ipv4.ICMPTypeEchoReply, msg.Type)
	echo, ok := msg.Body.(*icmp.Echo)
	require.True(t, ok, "reply body is not an echo body")
	require.Equal(t, wantData, echo.Data)
}
