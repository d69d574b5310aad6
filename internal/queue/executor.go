package queue

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Executor runs units of work on independently scheduled goroutines.
type Executor interface {
	// Execute schedules fn and returns without waiting for it.
	Execute(fn func())
}

// GoExecutor starts a goroutine per unit of work, optionally bounded by a
// weighted semaphore. Work beyond the bound waits for a slot.
type GoExecutor struct {
	sem *semaphore.Weighted
}

// NewGoExecutor creates an executor. maxConcurrent <= 0 means unbounded.
func NewGoExecutor(maxConcurrent int64) *GoExecutor {
	e := &GoExecutor{}
	if maxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return e
}

// Execute runs fn on a new goroutine once a slot is free.
func (e *GoExecutor) Execute(fn func()) {
	go func() {
		if e.sem != nil {
			// Background never cancels, so Acquire only returns once a slot is held.
			_ = e.sem.Acquire(context.Background(), 1)
			defer e.sem.Release(1)
		}
		fn()
	}()
}
