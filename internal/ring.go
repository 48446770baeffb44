package internal

import (
	"errors"
	"io"
)

var (
	// ErrRingFull is returned by writes exceeding the ring's free space.
	ErrRingFull   = errors.New("inet/ring: buffer full")
	errRingNoData = errors.New("inet/ring: empty write")
)

// Ring is a fixed-capacity byte ring buffer. It backs per-connection
// transmit queues: data is written in as the sender produces it and
// peeked/discarded in segment-sized chunks as the wire accepts it.
type Ring struct {
	buf  []byte
	off  int // start of readable data, index into buf
	used int // readable byte count
}

// Reset discards buffered data and sets the ring capacity to size.
func (r *Ring) Reset(size int) {
	if size <= 0 {
		panic("invalid ring size")
	}
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	r.off = 0
	r.used = 0
}

// Size returns the capacity of the ring buffer.
func (r *Ring) Size() int { return len(r.buf) }

// Buffered returns the amount of bytes ready to be read.
func (r *Ring) Buffered() int { return r.used }

// Free returns the amount of bytes that can be written before the ring
// reaches capacity.
func (r *Ring) Free() int { return len(r.buf) - r.used }

// Write appends all of b or nothing: if len(b) exceeds Free the write
// fails with [ErrRingFull].
func (r *Ring) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, errRingNoData
	}
	if len(b) > r.Free() {
		return 0, ErrRingFull
	}
	end := r.off + r.used
	if end >= len(r.buf) {
		end -= len(r.buf)
	}
	n := copy(r.buf[end:], b)
	if n < len(b) {
		n += copy(r.buf, b[n:])
	}
	r.used += n
	return n, nil
}

// ReadPeek copies up to len(b) buffered bytes into b without advancing
// the read pointer. [io.EOF] is returned when no data is buffered.
func (r *Ring) ReadPeek(b []byte) (int, error) {
	if r.used == 0 {
		return 0, io.EOF
	}
	want := r.used
	if len(b) < want {
		want = len(b)
	}
	first := r.off + want
	if first > len(r.buf) {
		first = len(r.buf)
	}
	n := copy(b, r.buf[r.off:first])
	if n < want {
		n += copy(b[n:], r.buf[:want-n])
	}
	return n, nil
}

// ReadDiscard advances the read pointer n bytes without copying data
// out. n must not exceed Buffered.
func (r *Ring) ReadDiscard(n int) error {
	if n <= 0 || n > r.used {
		return errors.New("inet/ring: invalid discard amount")
	}
	r.off += n
	if r.off >= len(r.buf) {
		r.off -= len(r.buf)
	}
	r.used -= n
	if r.used == 0 {
		r.off = 0 // Contiguity optimization for the common drained case.
	}
	return nil
}

// Read copies up to len(b) buffered bytes into b and advances the read
// pointer. [io.EOF] is returned when no data is buffered.
func (r *Ring) Read(b []byte) (int, error) {
	n, err := r.ReadPeek(b)
	if err != nil {
		return n, err
	}
	r.ReadDiscard(n)
	return n, nil
}
