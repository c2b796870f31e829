package gemini

import (
	"sync"
	"testing"
)

func TestNewKeyPoolRejectsEmpty(t *testing.T) {
	if _, err := NewKeyPool(nil); err == nil {
		t.Fatal("expected error for empty key list")
	}
	if _, err := NewKeyPool([]string{}); err == nil {
		t.Fatal("expected error for zero keys")
	}
}

func TestKeyPoolRotateCycles(t *testing.T) {
	pool, err := NewKeyPool([]string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}

	if got := pool.Current(); got != "A" {
		t.Fatalf("Current() = %q, want %q", got, "A")
	}

	want := []string{"B", "C", "A", "B"}
	for i, w := range want {
		if got := pool.Rotate(); got != w {
			t.Fatalf("Rotate() #%d = %q, want %q", i+1, got, w)
		}
	}
}

func TestKeyPoolFullCycleReturnsToStart(t *testing.T) {
	keys := []string{"A", "B", "C", "D"}
	pool, err := NewKeyPool(keys)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < len(keys); i++ {
		pool.Rotate()
	}
	if got := pool.Index(); got != 0 {
		t.Fatalf("after %d rotations Index() = %d, want 0", len(keys), got)
	}
	if got := pool.Current(); got != "A" {
		t.Fatalf("after full cycle Current() = %q, want %q", got, "A")
	}
}

func TestKeyPoolConcurrentRotate(t *testing.T) {
	pool, err := NewKeyPool([]string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Rotate()
			pool.Current()
		}()
	}
	wg.Wait()

	// 30 rotations over 3 keys lands back at the start.
	if got := pool.Index(); got != 0 {
		t.Fatalf("Index() = %d, want 0", got)
	}
}
