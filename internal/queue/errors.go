package queue

import "errors"

var (
	// ErrInvalidTaskState is returned by Submit for a task that is not ready
	// or is already queued.
	ErrInvalidTaskState = errors.New("task is not in ready state")

	// ErrTaskNotFound is returned when no queued task has the given ID.
	ErrTaskNotFound = errors.New("task not found in queue")
)
