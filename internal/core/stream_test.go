package core

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTextStreamDeliversAndFinalizes(t *testing.T) {
	var finalized atomic.Int32
	var got string
	stream := NewTextStream(func(accumulated string) {
		finalized.Add(1)
		got = accumulated
	})

	go func() {
		stream.Push("Hello")
		stream.Push(", ")
		stream.Push("world")
		stream.End()
	}()

	var received string
	for {
		fragment, ok := stream.Recv()
		if !ok {
			break
		}
		received += fragment
	}

	if received != "Hello, world" {
		t.Fatalf("received = %q", received)
	}
	if got != "Hello, world" {
		t.Fatalf("finalizer saw %q", got)
	}
	if n := finalized.Load(); n != 1 {
		t.Fatalf("finalizer ran %d times, want 1", n)
	}
}

func TestTextStreamEndIsIdempotent(t *testing.T) {
	var finalized atomic.Int32
	stream := NewTextStream(func(string) { finalized.Add(1) })

	stream.End()
	stream.End()
	stream.End()

	if n := finalized.Load(); n != 1 {
		t.Fatalf("finalizer ran %d times, want 1", n)
	}
}

func TestTextStreamEmptyPushIsSkipped(t *testing.T) {
	stream := NewTextStream(nil)

	go func() {
		stream.Push("")
		stream.Push("text")
		stream.Push("")
		stream.End()
	}()

	fragment, ok := stream.Recv()
	if !ok || fragment != "text" {
		t.Fatalf("Recv() = %q, %v", fragment, ok)
	}
	if _, ok := stream.Recv(); ok {
		t.Fatal("expected the stream to be closed")
	}
}

func TestTextStreamAbandonUnblocksProducer(t *testing.T) {
	var finalized atomic.Int32
	var got string
	stream := NewTextStream(func(accumulated string) {
		finalized.Add(1)
		got = accumulated
	})

	producerDone := make(chan error, 1)
	go func() {
		defer stream.End()
		// More fragments than the channel buffers, so the producer would
		// park forever if Abandon did not drain.
		for i := 0; i < 100; i++ {
			if err := stream.Push("x"); err != nil {
				producerDone <- err
				return
			}
		}
		producerDone <- nil
	}()

	// Read one fragment, then walk away.
	if _, ok := stream.Recv(); !ok {
		t.Fatal("stream closed before first fragment")
	}
	stream.Abandon()

	select {
	case err := <-producerDone:
		if err != nil && !errors.Is(err, ErrStreamAbandoned) {
			t.Fatalf("producer error = %v, want ErrStreamAbandoned", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Abandon")
	}

	// Give the deferred End a moment to run, then check the finalizer saw
	// the partial text exactly once.
	deadline := time.Now().Add(2 * time.Second)
	for finalized.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := finalized.Load(); n != 1 {
		t.Fatalf("finalizer ran %d times, want 1", n)
	}
	if got == "" {
		t.Fatal("finalizer saw no accumulated text from the partial stream")
	}
}

func TestTextStreamAbandonIsIdempotent(t *testing.T) {
	stream := NewTextStream(nil)
	stream.Abandon()
	stream.Abandon()

	if err := stream.Push("late"); !errors.Is(err, ErrStreamAbandoned) {
		t.Fatalf("Push after Abandon = %v, want ErrStreamAbandoned", err)
	}
	stream.End()
}
