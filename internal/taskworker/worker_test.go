package taskworker

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerRunsOnTrigger(t *testing.T) {
	var count int64
	w := New(func() {
		atomic.AddInt64(&count, 1)
	})
	w.Start()
	defer w.Close()

	for i := 0; i < 5; i++ {
		w.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	if c := atomic.LoadInt64(&count); c < 5 {
		t.Fatalf("want >=5 runs, got %d", c)
	}
}

func TestWorkerCoalescesBurstTriggers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int64

	w := New(func() {
		atomic.AddInt64(&runs, 1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	w.Start()
	defer w.Close()

	w.Trigger()
	<-started // first run is now blocked inside release

	for i := 0; i < 20; i++ {
		w.Trigger()
	}

	close(release)
	time.Sleep(20 * time.Millisecond)

	if c := atomic.LoadInt64(&runs); c > 2 {
		t.Fatalf("want coalesced triggers to yield at most one extra run, got %d total runs", c)
	}
}

func TestWorkerTriggerNeverBlocks(t *testing.T) {
	w := New(func() {})
	w.Start()
	defer w.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			w.Trigger()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trigger appears to have blocked")
	}
}

func TestWorkerCloseJoins(t *testing.T) {
	w := New(func() {})
	w.Start()
	w.Close()
	// Closing twice must not hang or panic.
	w.Close()
}
