package perfharness

import "github.com/shaban/perfharness/internal/taskworker"

// worker is a thin alias over the shared single-goroutine task worker
// (spec.md's C2), reused here for the outbound event dispatcher. See
// internal/taskworker for the implementation; the cache package's purge
// worker is built on the same type.
type worker = taskworker.Worker

func newWorker(action func()) *worker {
	return taskworker.New(action)
}
