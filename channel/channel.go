// Package channel defines the embedder's generic byte-channel contract
// and a readiness multiplexer over it. A socket, a UART, a pipe: any
// byte channel exposing read, write and size can be polled together.
package channel

import (
	"io"
	"sync"

	"github.com/chepo92/inet/internal"
)

// Channel is the generic byte-channel contract. Size reports how much
// inbound data the channel currently holds; a poll layer treats a
// non-zero Size as readable.
type Channel interface {
	io.Reader
	io.Writer
	Size() int
}

// Pollable is a Channel that can notify a [Poller] on inbound arrival.
type Pollable interface {
	Channel
	// SetPoller registers p as the channel's poll destination. A nil p
	// unregisters. The channel reports readiness to at most one poller.
	SetPoller(p *Poller)
}

// Poller multiplexes readiness over several channels. One goroutine at
// a time blocks in Wait; channels report arrivals through Wake from
// their own event context. The poll waiter has strictly lower priority
// than a channel's primary blocked reader: a channel only wakes the
// poller when no reader is parked on it.
type Poller struct {
	mu      sync.Mutex
	waiting bool
	baton   internal.Baton
	ready   []Channel
}

// NewPoller returns a ready-to-use Poller.
func NewPoller() *Poller {
	p := &Poller{}
	p.baton.Init()
	return p
}

// Add registers c with the poller. If c already holds inbound data the
// poller learns of it through the channel's readiness report.
func (p *Poller) Add(c Pollable) {
	c.SetPoller(p)
}

// Remove unregisters c.
func (p *Poller) Remove(c Pollable) {
	c.SetPoller(nil)
	p.mu.Lock()
	for i, rc := range p.ready {
		if rc == Channel(c) {
			p.ready = append(p.ready[:i], p.ready[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// Wait blocks until some registered channel reports readiness and
// returns it. Readiness is consumed: the channel is reported once per
// Wake.
func (p *Poller) Wait() Channel {
	p.mu.Lock()
	if len(p.ready) > 0 {
		c := p.pop()
		p.mu.Unlock()
		return c
	}
	p.waiting = true
	p.mu.Unlock()
	p.baton.Park()
	p.mu.Lock()
	c := p.pop()
	p.mu.Unlock()
	return c
}

// pop returns the oldest ready channel, or nil if a Remove raced the
// collection away.
func (p *Poller) pop() Channel {
	if len(p.ready) == 0 {
		return nil
	}
	c := p.ready[0]
	p.ready = p.ready[:copy(p.ready, p.ready[1:])]
	return c
}

// Wake reports c as ready. Channels call Wake from their event context
// when data arrives and no primary reader is parked. Duplicate reports
// of a channel already pending are coalesced.
func (p *Poller) Wake(c Channel) {
	p.mu.Lock()
	for _, rc := range p.ready {
		if rc == c {
			p.mu.Unlock()
			return
		}
	}
	p.ready = append(p.ready, c)
	if p.waiting {
		p.waiting = false
		p.mu.Unlock()
		p.baton.Wake(0, nil)
		return
	}
	p.mu.Unlock()
}
