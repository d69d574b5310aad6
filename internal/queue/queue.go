package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/taskworker/internal/events"
	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/metrics"
	"github.com/smazurov/taskworker/internal/task"
)

// Options configures a Queue. All fields are optional.
type Options struct {
	// Executor runs each task's worker. Defaults to an unbounded GoExecutor.
	Executor Executor

	// Logger for queue operations. Defaults to the "queue" module logger.
	Logger logging.Logger

	// Bus receives TaskSubmittedEvent for every accepted task.
	Bus *events.Bus

	// Metrics records submissions and completions.
	Metrics *metrics.Metrics
}

// entry tracks a submitted task until it finishes.
type entry struct {
	task        *task.Task
	submittedAt time.Time
}

// Queue hands tasks to an executor and tracks them until they finish.
type Queue struct {
	executor Executor
	logger   logging.Logger
	bus      *events.Bus
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	idle    chan struct{} // closed while entries is empty
}

var (
	instance     *Queue
	instanceOnce sync.Once
)

// Instance returns the process-wide queue, creating it on first use.
// It is never torn down.
func Instance() *Queue {
	instanceOnce.Do(func() {
		instance = New(Options{})
	})
	return instance
}

// New creates a queue.
func New(opts Options) *Queue {
	if opts.Executor == nil {
		opts.Executor = NewGoExecutor(0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("queue")
	}

	idle := make(chan struct{})
	close(idle)

	return &Queue{
		executor: opts.Executor,
		logger:   opts.Logger,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		entries:  make(map[string]*entry),
		idle:     idle,
	}
}

// Submit schedules t to be started on the executor and returns immediately.
// The task must be ready and not already queued.
func (q *Queue) Submit(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTaskState)
	}
	if state := t.State(); state != task.StateReady {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTaskState, t.ID(), state)
	}

	e := &entry{task: t, submittedAt: time.Now()}

	q.mu.Lock()
	if _, exists := q.entries[t.ID()]; exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: task %s already queued", ErrInvalidTaskState, t.ID())
	}
	if len(q.entries) == 0 {
		q.idle = make(chan struct{})
	}
	q.entries[t.ID()] = e
	q.mu.Unlock()

	q.metrics.TaskSubmitted()
	if q.bus != nil {
		q.bus.Publish(events.TaskSubmittedEvent{
			TaskID:     t.ID(),
			LaunchPath: t.LaunchPath(),
			Args:       t.Arguments(),
			Timestamp:  e.submittedAt.Format(time.RFC3339),
		})
	}
	q.logger.Debug("Task submitted", "task_id", t.ID(), "launch_path", t.LaunchPath())

	q.executor.Execute(func() {
		q.run(e)
	})
	return nil
}

// run is the worker body: start the task, wait for it, then release its slot.
func (q *Queue) run(e *entry) {
	t := e.task
	if err := t.Start(); err != nil {
		// Started elsewhere; its completion is still ours to observe.
		q.logger.Warn("Task already started when dequeued", "task_id", t.ID(), "error", err)
	}
	<-t.Done()

	q.mu.Lock()
	delete(q.entries, t.ID())
	if len(q.entries) == 0 {
		close(q.idle)
	}
	q.mu.Unlock()

	elapsed := time.Since(e.submittedAt)
	q.metrics.TaskFinished(outcome(t), elapsed)
	q.logger.Debug("Task left queue", "task_id", t.ID(), "exit_status", t.ExitStatus(), "elapsed", elapsed)
}

func outcome(t *task.Task) string {
	switch {
	case t.LaunchError() != nil:
		return metrics.OutcomeLaunchFailure
	case t.IsCancelled():
		return metrics.OutcomeCancelled
	case t.Signaled():
		return metrics.OutcomeSignaled
	default:
		return metrics.OutcomeExited
	}
}

// Len returns the number of tasks submitted and not yet finished.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Lookup returns a queued task by ID.
func (q *Queue) Lookup(id string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	return e.task, true
}

// Cancel cancels a queued task. A task still waiting for an executor slot is
// marked so that it finishes without launching.
func (q *Queue) Cancel(id string) error {
	t, ok := q.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := t.Cancel(); err != nil && !errors.Is(err, task.ErrNotExecuting) {
		return err
	}
	return nil
}

// CancelAll cancels every queued task and returns how many were signalled.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	tasks := make([]*task.Task, 0, len(q.entries))
	for _, e := range q.entries {
		tasks = append(tasks, e.task)
	}
	q.mu.Unlock()

	for _, t := range tasks {
		_ = t.Cancel()
	}
	if len(tasks) > 0 {
		q.logger.Info("Cancelled all queued tasks", "count", len(tasks))
	}
	return len(tasks)
}

// Wait blocks until no tasks are queued or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.idle
		empty := len(q.entries) == 0
		q.mu.Unlock()

		if empty {
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
