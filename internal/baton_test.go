package internal

import (
	"errors"
	"testing"
	"time"
)

func TestBatonWakeThenPark(t *testing.T) {
	// Resume-before-park: result must be held for the next Park.
	var b Baton
	b.Init()
	wantErr := errors.New("boom")
	b.Wake(42, wantErr)
	n, err := b.Park()
	if n != 42 || err != wantErr {
		t.Fatalf("got (%d, %v); want (42, %v)", n, err, wantErr)
	}
}

func TestBatonParkBlocksUntilWake(t *testing.T) {
	var b Baton
	b.Init()
	done := make(chan int, 1)
	go func() {
		n, _ := b.Park()
		done <- n
	}()
	select {
	case n := <-done:
		t.Fatalf("Park returned %d before Wake", n)
	case <-time.After(10 * time.Millisecond):
	}
	b.Wake(7, nil)
	select {
	case n := <-done:
		if n != 7 {
			t.Fatalf("got %d; want 7", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Park did not return after Wake")
	}
}

func TestBatonReuse(t *testing.T) {
	var b Baton
	b.Init()
	for i := 0; i < 100; i++ {
		go b.Wake(i, nil)
		n, err := b.Park()
		if err != nil || n != i {
			t.Fatalf("round %d: got (%d, %v)", i, n, err)
		}
	}
}
