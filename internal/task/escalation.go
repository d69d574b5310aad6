package task

import (
	"syscall"
	"time"
)

// Escalation is the termination state machine entered when a running task is
// cancelled. It is driven entirely by the timestamps passed in, so it can be
// exercised without a subprocess or a real clock.
//
//	Begin            -> Interrupt, deadline = now + interruptTimeout
//	Advance past dl  -> Terminate, deadline = now + terminateTimeout
//	Advance past dl  -> Kill, no further deadline
type Escalation struct {
	interruptTimeout time.Duration
	terminateTimeout time.Duration
	mode             TerminationMode
	deadline         time.Time
}

// NewEscalation creates an escalation with the given step deadlines.
// Non-positive values fall back to the package defaults.
func NewEscalation(interruptTimeout, terminateTimeout time.Duration) *Escalation {
	if interruptTimeout <= 0 {
		interruptTimeout = DefaultInterruptTimeout
	}
	if terminateTimeout <= 0 {
		terminateTimeout = DefaultTerminateTimeout
	}
	return &Escalation{
		interruptTimeout: interruptTimeout,
		terminateTimeout: terminateTimeout,
	}
}

// Mode returns the most recently applied step.
func (e *Escalation) Mode() TerminationMode {
	return e.mode
}

// Active reports whether Begin has been called.
func (e *Escalation) Active() bool {
	return e.mode != TerminationNone
}

// Deadline returns when the current step should be superseded.
// ok is false before Begin and after Kill.
func (e *Escalation) Deadline() (deadline time.Time, ok bool) {
	if e.mode == TerminationNone || e.mode == TerminationKill {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Begin starts the sequence. It returns false if the sequence is already running.
func (e *Escalation) Begin(now time.Time) (TerminationMode, bool) {
	if e.mode != TerminationNone {
		return e.mode, false
	}
	e.mode = TerminationInterrupt
	e.deadline = now.Add(e.interruptTimeout)
	return e.mode, true
}

// Advance moves to the next step if the current deadline has passed.
// It returns the new mode and true when a step was taken.
func (e *Escalation) Advance(now time.Time) (TerminationMode, bool) {
	deadline, ok := e.Deadline()
	if !ok || now.Before(deadline) {
		return e.mode, false
	}

	switch e.mode {
	case TerminationInterrupt:
		e.mode = TerminationTerminate
		e.deadline = now.Add(e.terminateTimeout)
	case TerminationTerminate:
		e.mode = TerminationKill
		e.deadline = time.Time{}
	}
	return e.mode, true
}

// Signal returns the signal that implements a termination mode.
func (m TerminationMode) Signal() syscall.Signal {
	switch m {
	case TerminationInterrupt:
		return syscall.SIGINT
	case TerminationTerminate:
		return syscall.SIGTERM
	case TerminationKill:
		return syscall.SIGKILL
	default:
		return 0
	}
}
