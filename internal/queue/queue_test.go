package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/metrics"
	"github.com/smazurov/taskworker/internal/task"
)

// statusRecorder collects completion statuses.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []int
}

func (r *statusRecorder) complete(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.statuses...)
}

func newQueue(opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return New(opts)
}

func shellTask(t *testing.T, script string, rec *statusRecorder) *task.Task {
	t.Helper()
	var onComplete task.CompletionFunc
	if rec != nil {
		onComplete = rec.complete
	}
	tk, err := task.New("/bin/sh", []string{"-c", script}, nil, onComplete,
		task.WithLogger(logging.Discard()),
		task.WithEscalationTimeouts(100*time.Millisecond, 100*time.Millisecond),
		task.WithDrainTimeout(200*time.Millisecond))
	require.NoError(t, err)
	return tk
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestSubmitRunsTask(t *testing.T) {
	q := newQueue(Options{})
	rec := &statusRecorder{}
	tk := shellTask(t, "exit 7", rec)

	require.NoError(t, q.Submit(tk))
	waitIdle(t, q)

	assert.True(t, tk.IsFinished())
	assert.Equal(t, []int{7}, rec.get())
	assert.Equal(t, 0, q.Len())
	_, ok := q.Lookup(tk.ID())
	assert.False(t, ok, "finished task should be removed from the table")
}

func TestSubmitReturnsImmediately(t *testing.T) {
	q := newQueue(Options{})
	tk := shellTask(t, "sleep 0.3", nil)

	start := time.Now()
	require.NoError(t, q.Submit(tk))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	got, ok := q.Lookup(tk.ID())
	require.True(t, ok)
	assert.Same(t, tk, got)
	assert.Equal(t, 1, q.Len())

	waitIdle(t, q)
}

func TestSubmitRejectsNonReadyTask(t *testing.T) {
	q := newQueue(Options{})
	tk := shellTask(t, "true", nil)

	require.NoError(t, tk.Start())
	<-tk.Done()

	err := q.Submit(tk)
	require.ErrorIs(t, err, ErrInvalidTaskState)
	assert.Equal(t, 0, q.Len())

	require.ErrorIs(t, q.Submit(nil), ErrInvalidTaskState)
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	// An executor that never runs anything keeps the task ready and queued.
	exec := &heldExecutor{}
	q := newQueue(Options{Executor: exec})
	tk := shellTask(t, "true", nil)

	require.NoError(t, q.Submit(tk))
	require.ErrorIs(t, q.Submit(tk), ErrInvalidTaskState)
	assert.Equal(t, 1, exec.count())

	exec.release()
	waitIdle(t, q)
}

func TestConcurrentTasksAreIndependent(t *testing.T) {
	q := newQueue(Options{})
	recA := &statusRecorder{}
	recB := &statusRecorder{}
	a := shellTask(t, "while :; do sleep 0.05; done", recA)
	b := shellTask(t, "sleep 0.3; exit 3", recB)

	require.NoError(t, q.Submit(a))
	require.NoError(t, q.Submit(b))

	require.Eventually(t, a.IsExecuting, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Cancel(a.ID()))

	waitIdle(t, q)

	require.Len(t, recA.get(), 1)
	assert.Equal(t, 128+2, recA.get()[0], "SIGINT should end the loop")
	assert.Equal(t, []int{3}, recB.get())
}

func TestCancelUnknownTask(t *testing.T) {
	q := newQueue(Options{})
	require.ErrorIs(t, q.Cancel("missing"), ErrTaskNotFound)
}

func TestCancelWaitingTaskNeverLaunches(t *testing.T) {
	q := newQueue(Options{Executor: NewGoExecutor(1)})
	first := shellTask(t, "sleep 0.3", nil)
	recWaiting := &statusRecorder{}
	waiting := shellTask(t, "echo never", recWaiting)

	require.NoError(t, q.Submit(first))
	require.Eventually(t, first.IsExecuting, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Submit(waiting))

	// The executor has one slot, so the second task is still ready.
	assert.Equal(t, task.StateReady, waiting.State())
	require.NoError(t, q.Cancel(waiting.ID()))

	waitIdle(t, q)

	assert.True(t, waiting.IsFinished())
	assert.Empty(t, recWaiting.get(), "completion must not fire for a task that never launched")
	assert.Equal(t, -1, waiting.PID())
}

func TestBoundedExecutorSerialises(t *testing.T) {
	q := newQueue(Options{Executor: NewGoExecutor(1)})

	var running, peak atomic.Int32
	track := func(state task.State) {
		switch state {
		case task.StateExecuting:
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
		case task.StateFinished:
			running.Add(-1)
		}
	}

	for range 3 {
		tk, err := task.New("/bin/sh", []string{"-c", "sleep 0.05"}, nil, nil,
			task.WithLogger(logging.Discard()),
			task.WithStateObserver(func(_ *task.Task, _, newState task.State) { track(newState) }))
		require.NoError(t, err)
		require.NoError(t, q.Submit(tk))
	}

	waitIdle(t, q)
	assert.Equal(t, int32(1), peak.Load())
}

func TestCancelAll(t *testing.T) {
	q := newQueue(Options{})
	recs := make([]*statusRecorder, 3)
	for i := range recs {
		recs[i] = &statusRecorder{}
		tk := shellTask(t, "trap 'exit 0' INT; while :; do sleep 0.05; done", recs[i])
		require.NoError(t, q.Submit(tk))
		require.Eventually(t, tk.IsExecuting, time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, 3, q.CancelAll())
	waitIdle(t, q)

	for _, rec := range recs {
		assert.Equal(t, []int{0}, rec.get())
	}
}

func TestWaitHonoursContext(t *testing.T) {
	q := newQueue(Options{})
	tk := shellTask(t, "while :; do sleep 0.05; done", nil)
	require.NoError(t, q.Submit(tk))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Wait(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	q.CancelAll()
	waitIdle(t, q)
}

func TestWaitOnEmptyQueue(t *testing.T) {
	q := newQueue(Options{})
	require.NoError(t, q.Wait(context.Background()))
}

func TestLaunchFailureLeavesQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := newQueue(Options{Metrics: m})
	rec := &statusRecorder{}

	tk, err := task.New("/nonexistent/binary", nil, nil, rec.complete, task.WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, q.Submit(tk))

	waitIdle(t, q)
	assert.Equal(t, []int{task.StatusLaunchFailure}, rec.get())
	assert.Equal(t, int64(0), m.Active())
}

func TestInstanceIsSingleton(t *testing.T) {
	a := Instance()
	b := Instance()
	require.NotNil(t, a)
	assert.Same(t, a, b)
}

// heldExecutor records work and runs it only when released.
type heldExecutor struct {
	mu      sync.Mutex
	pending []func()
}

func (e *heldExecutor) Execute(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, fn)
}

func (e *heldExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *heldExecutor) release() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		go fn()
	}
}
