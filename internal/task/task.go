package task

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/taskworker/internal/logging"
)

const defaultDrainTimeout = 2 * time.Second

// OutputFunc receives chunks of the subprocess's standard output.
type OutputFunc func(chunk string)

// CompletionFunc receives the final exit status of the subprocess.
//
// A signal-induced exit is reported as 128 plus the signal number, which a
// program exiting on its own with 129 or above cannot be told apart from.
// Task.Signaled distinguishes the two.
type CompletionFunc func(status int)

// Task runs one external program as a managed unit of work.
//
// A Task is single-shot: Start may be called once, and a finished task cannot
// be restarted. All accessors are safe for concurrent use.
type Task struct {
	id         string
	launchPath string
	args       []string
	onOutput   OutputFunc
	onComplete CompletionFunc

	logger             logging.Logger
	clock              Clock
	interruptTimeout   time.Duration
	terminateTimeout   time.Duration
	drainTimeout       time.Duration
	outputMode         OutputMode
	stateObserver      StateObserver
	escalationObserver EscalationObserver

	state      atomic.Int32
	mode       atomic.Int32
	deadline   atomic.Int64 // unix nanoseconds, 0 when no step is pending
	pid        atomic.Int64
	exitStatus atomic.Int64
	signal     atomic.Int32
	cancelled  atomic.Bool

	startMu   sync.Mutex // orders the ready-state decision between Start and Cancel
	mu        sync.Mutex // protects cmd and launchErr
	cmd       *exec.Cmd
	launchErr error

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

// New creates a task in the ready state. The arguments are copied; nil
// callbacks are treated as no-ops.
func New(launchPath string, args []string, onOutput OutputFunc, onComplete CompletionFunc, opts ...Option) (*Task, error) {
	if launchPath == "" {
		return nil, fmt.Errorf("%w: launch path is empty", ErrInvalidConfiguration)
	}

	t := &Task{
		id:               uuid.New().String(),
		launchPath:       launchPath,
		args:             slices.Clone(args),
		onOutput:         onOutput,
		onComplete:       onComplete,
		clock:            realClock{},
		interruptTimeout: DefaultInterruptTimeout,
		terminateTimeout: DefaultTerminateTimeout,
		drainTimeout:     defaultDrainTimeout,
		outputMode:       OutputRaw,
		cancelCh:         make(chan struct{}),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.logger == nil {
		t.logger = logging.GetLogger("task")
	}
	if t.clock == nil {
		t.clock = realClock{}
	}
	mode, err := ParseOutputMode(string(t.outputMode))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	t.outputMode = mode
	if t.args == nil {
		t.args = []string{}
	}

	t.pid.Store(-1)
	t.exitStatus.Store(-1)
	t.state.Store(int32(StateReady))
	return t, nil
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// LaunchPath returns the executable path.
func (t *Task) LaunchPath() string { return t.launchPath }

// Arguments returns a copy of the argument list.
func (t *Task) Arguments() []string { return slices.Clone(t.args) }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// IsExecuting reports whether the subprocess has been launched and not yet reported.
func (t *Task) IsExecuting() bool { return t.State() == StateExecuting }

// IsFinished reports whether the task has reached its terminal state.
func (t *Task) IsFinished() bool { return t.State() == StateFinished }

// IsCancelled reports whether Cancel has been called.
func (t *Task) IsCancelled() bool { return t.cancelled.Load() }

// TerminationMode returns the escalation step most recently applied.
func (t *Task) TerminationMode() TerminationMode { return TerminationMode(t.mode.Load()) }

// TerminationDeadline returns when the current escalation step will be superseded.
func (t *Task) TerminationDeadline() (time.Time, bool) {
	ns := t.deadline.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// PID returns the subprocess ID, or -1 if it was never launched.
func (t *Task) PID() int { return int(t.pid.Load()) }

// ExitStatus returns the status delivered to the completion callback,
// or -1 if the task has not finished.
func (t *Task) ExitStatus() int { return int(t.exitStatus.Load()) }

// Signaled reports whether the subprocess was ended by a signal.
func (t *Task) Signaled() bool { return t.signal.Load() != 0 }

// Signal returns the signal that ended the subprocess, or 0.
func (t *Task) Signal() syscall.Signal { return syscall.Signal(t.signal.Load()) }

// LaunchError returns the spawn error for a task whose subprocess never started.
func (t *Task) LaunchError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.launchErr
}

// Done returns a channel that is closed once the task is finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is finished and returns its exit status.
func (t *Task) Wait() int {
	<-t.done
	return t.ExitStatus()
}

// Start launches the subprocess and returns once it is running (or failed to
// launch). Output and exit are handled on background goroutines.
//
// A launch failure is not returned: the task finishes with StatusLaunchFailure
// and LaunchError describes the cause.
func (t *Task) Start() error {
	t.startMu.Lock()
	if t.cancelled.Load() {
		finished := t.state.CompareAndSwap(int32(StateReady), int32(StateFinished))
		t.startMu.Unlock()
		if !finished {
			return ErrAlreadyStarted
		}
		t.notifyState(StateReady, StateFinished)
		t.logger.Info("Task cancelled before start", "task_id", t.id)
		close(t.done)
		return nil
	}
	started := t.state.CompareAndSwap(int32(StateReady), int32(StateExecuting))
	t.startMu.Unlock()
	if !started {
		return ErrAlreadyStarted
	}
	t.notifyState(StateReady, StateExecuting)

	rp, err := t.launch()
	if err != nil {
		t.failLaunch(err)
		return nil
	}

	go t.supervise(rp)
	return nil
}

// Cancel begins the termination escalation for an executing task. It does not
// wait for the subprocess to exit. Repeated calls have no further effect.
//
// A task that has not started yet is marked cancelled so that a later Start
// finishes it without launching anything; ErrNotExecuting is still returned.
func (t *Task) Cancel() error {
	t.startMu.Lock()
	state := t.State()
	if state != StateFinished {
		t.cancelled.Store(true)
	}
	t.startMu.Unlock()

	if state != StateExecuting {
		return ErrNotExecuting
	}
	t.requestCancel()
	return nil
}

func (t *Task) requestCancel() {
	t.cancelOnce.Do(func() {
		close(t.cancelCh)
	})
}

// transition moves the state forward and notifies the observer.
func (t *Task) transition(from, to State) bool {
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	t.notifyState(from, to)
	return true
}

func (t *Task) notifyState(from, to State) {
	if t.stateObserver != nil {
		t.stateObserver(t, from, to)
	}
}

// runningProcess holds the handles of a launched subprocess.
type runningProcess struct {
	cmd        *exec.Cmd
	stdout     *os.File
	stderr     *os.File
	outputDone chan struct{}
	stderrDone chan struct{}
	exited     chan error
}

// launch spawns the subprocess with its stdout and stderr wired to pipes owned by the task.
func (t *Task) launch() (*runningProcess, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd := exec.Command(t.launchPath, t.args...)
	configureProcessGroup(cmd)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}

	// The child holds its own copies; ours must go so EOF can be observed.
	closeAll(stdoutW, stderrW)

	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()
	t.pid.Store(int64(cmd.Process.Pid))

	t.logger.Info("Process started", "task_id", t.id, "pid", cmd.Process.Pid, "launch_path", t.launchPath)

	rp := &runningProcess{
		cmd:        cmd,
		stdout:     stdoutR,
		stderr:     stderrR,
		outputDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
		exited:     make(chan error, 1),
	}

	go func() {
		defer close(rp.outputDone)
		t.pumpOutput(stdoutR)
	}()
	go func() {
		defer close(rp.stderrDone)
		t.pumpStderr(stderrR)
	}()
	go func() {
		rp.exited <- cmd.Wait()
	}()

	return rp, nil
}

// failLaunch finishes a task whose subprocess could not be spawned.
func (t *Task) failLaunch(err error) {
	t.logger.Error("Failed to start process", "task_id", t.id, "launch_path", t.launchPath, "error", err)

	t.mu.Lock()
	t.launchErr = fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	t.mu.Unlock()

	t.complete(StatusLaunchFailure)
}

// supervise waits for the subprocess to exit, driving the termination
// escalation if Cancel is called in the meantime.
func (t *Task) supervise(rp *runningProcess) {
	esc := NewEscalation(t.interruptTimeout, t.terminateTimeout)
	cancelCh := t.cancelCh
	var deadlineC <-chan time.Time
	var waitErr error

wait:
	for {
		select {
		case waitErr = <-rp.exited:
			break wait
		case <-cancelCh:
			cancelCh = nil
			if mode, begun := esc.Begin(t.clock.Now()); begun {
				t.applyTermination(rp, esc, mode)
			}
			deadlineC = t.nextDeadline(esc)
		case <-deadlineC:
			// The leader may have been reaped in the same instant; its group ID is no longer ours to signal.
			select {
			case waitErr = <-rp.exited:
				break wait
			default:
			}
			if mode, advanced := esc.Advance(t.clock.Now()); advanced {
				t.applyTermination(rp, esc, mode)
			}
			deadlineC = t.nextDeadline(esc)
		}
	}

	t.deadline.Store(0)
	status, sig := exitStatus(rp.cmd.ProcessState, waitErr)
	if sig != 0 {
		t.signal.Store(int32(sig))
	}

	t.drainOutput(rp)

	t.logger.Info("Process exited", "task_id", t.id, "pid", rp.cmd.Process.Pid, "exit_status", status,
		"termination_mode", t.TerminationMode().String())
	if waitErr != nil && rp.cmd.ProcessState == nil {
		t.logger.Error("Wait failed", "task_id", t.id, "error", waitErr)
	}

	t.mu.Lock()
	t.cmd = nil
	t.mu.Unlock()

	t.complete(status)
}

func (t *Task) nextDeadline(esc *Escalation) <-chan time.Time {
	deadline, ok := esc.Deadline()
	if !ok {
		return nil
	}
	return t.clock.After(deadline.Sub(t.clock.Now()))
}

// applyTermination records the new escalation step and signals the process group.
func (t *Task) applyTermination(rp *runningProcess, esc *Escalation, mode TerminationMode) {
	t.mode.Store(int32(mode))
	if deadline, ok := esc.Deadline(); ok {
		t.deadline.Store(deadline.UnixNano())
	} else {
		t.deadline.Store(0)
	}

	sig := mode.Signal()
	t.logger.Warn("Sending termination signal", "task_id", t.id, "pid", rp.cmd.Process.Pid,
		"mode", mode.String(), "signal", sig.String())
	if err := signalProcessGroup(rp.cmd.Process, sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.logger.Warn("Failed to signal process", "task_id", t.id, "signal", sig.String(), "error", err)
	}

	if t.escalationObserver != nil {
		t.escalationObserver(t, mode)
	}
}

// drainOutput waits for both pumps to hit EOF. If a descendant keeps the pipe
// open past the drain timeout, the read ends are closed to stop the pumps.
func (t *Task) drainOutput(rp *runningProcess) {
	timeout := t.clock.After(t.drainTimeout)
	for _, done := range []chan struct{}{rp.outputDone, rp.stderrDone} {
		select {
		case <-done:
		case <-timeout:
			t.logger.Warn("Output still open after exit, closing", "task_id", t.id, "timeout", t.drainTimeout)
			closeAll(rp.stdout, rp.stderr)
			<-rp.outputDone
			<-rp.stderrDone
		}
	}
	closeAll(rp.stdout, rp.stderr)
}

// complete delivers the exit status and moves the task to finished.
func (t *Task) complete(status int) {
	t.exitStatus.Store(int64(status))
	if t.onComplete != nil {
		t.onComplete(status)
	}
	t.transition(StateExecuting, StateFinished)
	close(t.done)
}

// exitStatus converts the outcome of Wait into the status delivered to callers.
func exitStatus(state *os.ProcessState, waitErr error) (int, syscall.Signal) {
	if state == nil {
		if waitErr == nil {
			return 0, 0
		}
		return 1, 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return signalStatusBase + int(ws.Signal()), ws.Signal()
	}
	return state.ExitCode(), 0
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
