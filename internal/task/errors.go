package task

import "errors"

// Sentinel errors for the task package.
var (
	// ErrInvalidConfiguration is returned by New for malformed input such as an empty launch path.
	ErrInvalidConfiguration = errors.New("invalid task configuration")

	// ErrNotExecuting is returned by Cancel when the task is not in the executing state.
	ErrNotExecuting = errors.New("task not executing")

	// ErrAlreadyStarted is returned by Start when the task has left the ready state.
	ErrAlreadyStarted = errors.New("task already started")

	// ErrLaunchFailure wraps the spawn error recorded on a task whose subprocess never started.
	ErrLaunchFailure = errors.New("task launch failed")
)
