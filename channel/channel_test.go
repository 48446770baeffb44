package channel_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/chepo92/inet"
	"github.com/chepo92/inet/channel"
	"github.com/chepo92/inet/loopstack"
	"github.com/chepo92/inet/socket"
	"github.com/prometheus/client_golang/prometheus"
)

func newStack(t *testing.T) *socket.Stack {
	t.Helper()
	lp := inet.NewLoop(0)
	t.Cleanup(lp.Close)
	var lnet loopstack.Net
	if err := lnet.Reset(loopstack.Config{Loop: lp}); err != nil {
		t.Fatal(err)
	}
	stk := new(socket.Stack)
	err := stk.Reset(socket.Config{Network: &lnet, Loop: lp, Metrics: prometheus.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	return stk
}

func TestPollerWakesOnArrival(t *testing.T) {
	stk := newStack(t)
	addr := netip.MustParseAddrPort("127.0.0.1:7001")
	var rx, tx socket.Socket
	if err := rx.OpenUDP(stk); err != nil {
		t.Fatal(err)
	}
	if err := rx.Bind(addr); err != nil {
		t.Fatal(err)
	}
	if err := tx.OpenUDP(stk); err != nil {
		t.Fatal(err)
	}

	p := channel.NewPoller()
	p.Add(&rx)

	ready := make(chan channel.Channel, 1)
	go func() { ready <- p.Wait() }()
	select {
	case <-ready:
		t.Fatal("poller woke with nothing held")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := tx.SendTo([]byte("knock"), addr); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ready:
		if c != channel.Channel(&rx) {
			t.Fatalf("poller returned wrong channel %v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not wake on arrival")
	}
	if rx.Size() == 0 {
		t.Fatal("readiness reported but Size is zero")
	}
	buf := make([]byte, 8)
	n, err := rx.Read(buf)
	if err != nil || string(buf[:n]) != "knock" {
		t.Fatalf("read after readiness: %q, %v", buf[:n], err)
	}
	if rx.Size() != 0 {
		t.Fatalf("Size after drain = %d; want 0", rx.Size())
	}
}

func TestPollerAddWithDataAlreadyHeld(t *testing.T) {
	stk := newStack(t)
	addr := netip.MustParseAddrPort("127.0.0.1:7002")
	var rx, tx socket.Socket
	if err := rx.OpenUDP(stk); err != nil {
		t.Fatal(err)
	}
	if err := rx.Bind(addr); err != nil {
		t.Fatal(err)
	}
	if err := tx.OpenUDP(stk); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.SendTo([]byte("early"), addr); err != nil {
		t.Fatal(err)
	}

	p := channel.NewPoller()
	p.Add(&rx)
	done := make(chan channel.Channel, 1)
	go func() { done <- p.Wait() }()
	select {
	case c := <-done:
		if c != channel.Channel(&rx) {
			t.Fatalf("wrong channel %v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("poller missed data held at registration time")
	}
}

// The poll waiter has lower priority than a primary blocked reader: a
// parked receive consumes the arrival and the poller stays asleep.
func TestPollerYieldsToPrimaryWaiter(t *testing.T) {
	stk := newStack(t)
	addr := netip.MustParseAddrPort("127.0.0.1:7003")
	var rx, tx socket.Socket
	if err := rx.OpenUDP(stk); err != nil {
		t.Fatal(err)
	}
	if err := rx.Bind(addr); err != nil {
		t.Fatal(err)
	}
	if err := tx.OpenUDP(stk); err != nil {
		t.Fatal(err)
	}

	p := channel.NewPoller()
	p.Add(&rx)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 8)
		n, _, err := rx.RecvFrom(buf)
		if err != nil {
			got <- err.Error()
			return
		}
		got <- string(buf[:n])
	}()
	time.Sleep(50 * time.Millisecond) // Let the reader park first.

	polled := make(chan channel.Channel, 1)
	go func() { polled <- p.Wait() }()

	if _, err := tx.SendTo([]byte("direct"), addr); err != nil {
		t.Fatal(err)
	}
	if msg := <-got; msg != "direct" {
		t.Fatalf("primary reader got %q", msg)
	}
	select {
	case <-polled:
		t.Fatal("poller woke although the primary waiter consumed the arrival")
	case <-time.After(50 * time.Millisecond):
	}
	// A second arrival with no primary waiter goes to the poller.
	if _, err := tx.SendTo([]byte("queued"), addr); err != nil {
		t.Fatal(err)
	}
	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("poller did not wake on unclaimed arrival")
	}
}
