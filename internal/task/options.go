package task

import (
	"time"

	"github.com/smazurov/taskworker/internal/logging"
)

// StateObserver is notified after every lifecycle transition.
type StateObserver func(t *Task, oldState, newState State)

// EscalationObserver is notified after each termination step is applied.
type EscalationObserver func(t *Task, mode TerminationMode)

// Option configures a Task.
type Option func(*Task)

// WithID overrides the generated task ID.
func WithID(id string) Option {
	return func(t *Task) {
		if id != "" {
			t.id = id
		}
	}
}

// WithLogger sets the logger for task lifecycle messages.
func WithLogger(logger logging.Logger) Option {
	return func(t *Task) {
		t.logger = logger
	}
}

// WithClock replaces the time source used for termination deadlines.
func WithClock(clock Clock) Option {
	return func(t *Task) {
		t.clock = clock
	}
}

// WithEscalationTimeouts sets how long the Interrupt and Terminate steps are
// given before the next step is applied.
func WithEscalationTimeouts(interrupt, terminate time.Duration) Option {
	return func(t *Task) {
		t.interruptTimeout = interrupt
		t.terminateTimeout = terminate
	}
}

// WithDrainTimeout bounds how long output is still read after the subprocess
// exits, for descendants that keep the pipe open.
func WithDrainTimeout(d time.Duration) Option {
	return func(t *Task) {
		t.drainTimeout = d
	}
}

// WithOutputMode selects raw or line-buffered output delivery.
func WithOutputMode(mode OutputMode) Option {
	return func(t *Task) {
		t.outputMode = mode
	}
}

// WithStateObserver registers a hook for lifecycle transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(t *Task) {
		t.stateObserver = fn
	}
}

// WithEscalationObserver registers a hook for termination steps.
func WithEscalationObserver(fn EscalationObserver) Option {
	return func(t *Task) {
		t.escalationObserver = fn
	}
}
