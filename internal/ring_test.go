package internal

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRing(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const bufSize = 8
	const data = "hello world"
	var r Ring
	r.Reset(bufSize)
	var buf [bufSize]byte
	// Random-sized writes read back in order. Each read drains the ring,
	// which resets the read offset, so every write starts at index 0.
	for i := 0; i < 64; i++ {
		nw := 1 + rng.Intn(bufSize-1)
		ngot, err := r.Write([]byte(data[:nw]))
		if err != nil {
			t.Fatal(i, err)
		}
		if ngot != nw {
			t.Fatalf("%d: wrote %d; want %d", i, ngot, nw)
		}
		if r.Buffered() != nw || r.Free() != bufSize-nw {
			t.Fatalf("%d: buffered/free %d/%d after %d-byte write", i, r.Buffered(), r.Free(), nw)
		}
		n, err := r.Read(buf[:])
		if err != nil {
			t.Fatal(i, err)
		}
		if n != nw || string(buf[:n]) != data[:nw] {
			t.Fatalf("%d: read %q; want %q", i, buf[:n], data[:nw])
		}
	}
}

func TestRingOverflowWritesNothing(t *testing.T) {
	var r Ring
	r.Reset(4)
	if _, err := r.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Write([]byte("de")); err != ErrRingFull {
		t.Fatalf("got %v; want ErrRingFull", err)
	}
	var buf [4]byte
	n, _ := r.Read(buf[:])
	if string(buf[:n]) != "abc" {
		t.Fatalf("overflowing write modified contents: %q", buf[:n])
	}
}

func TestRingPeekDiscard(t *testing.T) {
	var r Ring
	r.Reset(8)
	r.Write([]byte("abcdefg"))
	var seg [3]byte
	var got bytes.Buffer
	for r.Buffered() > 0 {
		n, err := r.ReadPeek(seg[:])
		if err != nil {
			t.Fatal(err)
		}
		// Peek twice: must not advance.
		n2, _ := r.ReadPeek(seg[:])
		if n2 != n {
			t.Fatalf("peek advanced read pointer: %d then %d", n, n2)
		}
		got.Write(seg[:n])
		if err := r.ReadDiscard(n); err != nil {
			t.Fatal(err)
		}
	}
	if got.String() != "abcdefg" {
		t.Fatalf("got %q", got.String())
	}
	if err := r.ReadDiscard(1); err == nil {
		t.Fatal("discard on empty ring should error")
	}
}
