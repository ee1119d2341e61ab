package ports

import (
	"sync"
	"testing"
)

func TestAllocateExcludesTaken(t *testing.T) {
	a := NewAllocator(10000, 10002, []int{10001})
	defer a.Stop()

	first, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, p := range []int{first, second} {
		if p == 10001 {
			t.Fatalf("allocated a port that was supposed to be excluded: %d", p)
		}
	}
	if first == second {
		t.Fatalf("allocated the same port twice: %d", first)
	}

	if _, err := a.Allocate(); err == nil {
		t.Fatal("expected pool exhaustion error, got nil")
	}
}

func TestReleaseReturnsPortToPool(t *testing.T) {
	a := NewAllocator(20000, 20000, nil)
	defer a.Stop()

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Allocate(); err == nil {
		t.Fatal("expected pool exhaustion before release")
	}

	a.Release(port)

	reallocated, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	if reallocated != port {
		t.Fatalf("expected to reallocate released port %d, got %d", port, reallocated)
	}
}

func TestReleaseUnknownPortIsNoop(t *testing.T) {
	a := NewAllocator(30000, 30001, nil)
	defer a.Stop()

	a.Release(99999) // never allocated; must not panic or corrupt state

	first, err1 := a.Allocate()
	second, err2 := a.Allocate()
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if first == second {
		t.Fatalf("pool corrupted by releasing an unknown port")
	}
}

func TestConcurrentAllocateRelease(t *testing.T) {
	a := NewAllocator(40000, 40099, nil)
	defer a.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.Allocate()
			if err != nil {
				return
			}
			a.Release(port)
		}()
	}
	wg.Wait()
}
