package generation

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTrackerExclusiveUnderContention(t *testing.T) {
	tr := NewMemoryTracker()
	const goroutines = 64

	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if tr.TryAcquire(42) {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("acquired %d times, want exactly 1", wins)
	}
	if tr.Active() != 1 {
		t.Fatalf("active = %d, want 1", tr.Active())
	}
}

func TestTrackerReleaseReopensSlot(t *testing.T) {
	tr := NewMemoryTracker()
	if !tr.TryAcquire(42) {
		t.Fatal("first acquire should win")
	}
	if tr.TryAcquire(42) {
		t.Fatal("second acquire should lose")
	}
	if !tr.TryAcquire(43) {
		t.Fatal("other accounts are independent")
	}

	tr.Release(42)
	if !tr.TryAcquire(42) {
		t.Fatal("acquire after release should win")
	}
	if tr.Active() != 2 {
		t.Fatalf("active = %d, want 2", tr.Active())
	}
}

func TestTrackerReleaseUnknownIsNoop(t *testing.T) {
	tr := NewMemoryTracker()
	tr.Release(99)
	if tr.Active() != 0 {
		t.Fatalf("active = %d, want 0", tr.Active())
	}
}
