package task

import (
	"fmt"
	"time"
)

// State represents where a task is in its lifecycle. It only moves forward.
type State int32

// Task states.
const (
	StateReady     State = iota // Constructed, not started
	StateExecuting              // Subprocess launched
	StateFinished               // Completion delivered (or never started)
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// TerminationMode is the escalation step most recently applied to a subprocess.
type TerminationMode int32

// Termination modes, in escalation order.
const (
	TerminationNone TerminationMode = iota
	TerminationInterrupt
	TerminationTerminate
	TerminationKill
)

// String returns a human-readable mode name.
func (m TerminationMode) String() string {
	switch m {
	case TerminationNone:
		return "none"
	case TerminationInterrupt:
		return "interrupt"
	case TerminationTerminate:
		return "terminate"
	case TerminationKill:
		return "kill"
	default:
		return fmt.Sprintf("unknown(%d)", int32(m))
	}
}

// Exit status sentinels delivered to the completion callback.
const (
	// StatusLaunchFailure is reported when the executable could not be spawned.
	StatusLaunchFailure = -1

	// signalStatusBase is added to the signal number for signal-induced exits,
	// matching the shell convention (SIGKILL -> 137).
	signalStatusBase = 128
)

// Default escalation deadlines.
const (
	DefaultInterruptTimeout = 5 * time.Second
	DefaultTerminateTimeout = 5 * time.Second
)

// OutputMode controls the granularity of output delivery.
type OutputMode string

// Output modes.
const (
	// OutputRaw delivers whatever each read returns, up to readBufferSize bytes.
	OutputRaw OutputMode = "raw"
	// OutputLines delivers newline-terminated lines, newline included.
	OutputLines OutputMode = "line"
)

// ParseOutputMode converts a config string into an OutputMode.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case "", OutputRaw:
		return OutputRaw, nil
	case OutputLines, "lines":
		return OutputLines, nil
	default:
		return "", fmt.Errorf("unknown output mode %q", s)
	}
}
