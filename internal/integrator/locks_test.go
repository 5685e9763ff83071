package integrator

import (
	"sync"
	"testing"
	"time"
)

func TestOwnerLocksSerializesSameOwner(t *testing.T) {
	locks := NewOwnerLocks()
	var (
		mu     sync.Mutex
		inside int
		peak   int
		wg     sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("owner-1")
			defer unlock()
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected one holder at a time, saw %d", peak)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected entries evicted, got %d", locks.Len())
	}
}

func TestOwnerLocksIndependentOwners(t *testing.T) {
	locks := NewOwnerLocks()
	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock for b blocked behind a")
	}
	if locks.Len() != 1 {
		t.Fatalf("expected one entry, got %d", locks.Len())
	}
	unlockA()
	unlockA()
	if locks.Len() != 0 {
		t.Fatalf("expected no entries, got %d", locks.Len())
	}
}
