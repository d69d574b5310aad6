package jobs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/taskworker/internal/events"
	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/metrics"
	"github.com/smazurov/taskworker/internal/queue"
	"github.com/smazurov/taskworker/internal/task"
)

func newTestService(t *testing.T, mutate func(*Options)) *Service {
	t.Helper()
	opts := Options{
		Queue:            queue.New(queue.Options{Logger: logging.Discard()}),
		Bus:              events.New(),
		Metrics:          metrics.New(prometheus.NewRegistry()),
		Logger:           logging.Discard(),
		InterruptTimeout: 100 * time.Millisecond,
		TerminateTimeout: 100 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewService(opts)
}

func waitJob(t *testing.T, svc *Service, id string) *Job {
	t.Helper()
	done, err := svc.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for job %s", id)
	}
	job, err := svc.Get(id)
	require.NoError(t, err)
	return job
}

func sh(script string) Request {
	return Request{LaunchPath: "/bin/sh", Args: []string{"-c", script}}
}

func TestSubmitCapturesOutputAndStatus(t *testing.T) {
	svc := newTestService(t, nil)

	job, err := svc.Submit(sh("printf 'hello '; printf world; exit 4"))
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "/bin/sh", job.LaunchPath)

	job = waitJob(t, svc, job.ID)
	assert.Equal(t, task.StateFinished, job.State)
	require.NotNil(t, job.ExitStatus)
	assert.Equal(t, 4, *job.ExitStatus)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, int64(len("hello world")), job.OutputBytes)

	chunks, err := svc.Output(job.ID, 0)
	require.NoError(t, err)
	var text string
	for _, c := range chunks {
		text += c.Data
	}
	assert.Equal(t, "hello world", text)
}

func TestSubmitInvalidRequest(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Submit(Request{})
	require.ErrorIs(t, err, task.ErrInvalidConfiguration)
	assert.Empty(t, svc.List())

	_, err = svc.Submit(Request{LaunchPath: "/bin/true", OutputMode: "bogus"})
	require.ErrorIs(t, err, task.ErrInvalidConfiguration)
}

func TestLaunchFailureRecorded(t *testing.T) {
	svc := newTestService(t, nil)

	job, err := svc.Submit(Request{LaunchPath: "/nonexistent/tool"})
	require.NoError(t, err)

	job = waitJob(t, svc, job.ID)
	require.NotNil(t, job.ExitStatus)
	assert.Equal(t, task.StatusLaunchFailure, *job.ExitStatus)
	assert.NotEmpty(t, job.LaunchError)
	assert.Equal(t, -1, job.PID)
}

func TestGetUnknownJob(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Get("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.Output("missing", 0)
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, svc.Cancel("missing"), ErrJobNotFound)
}

func TestCancelRunningJob(t *testing.T) {
	svc := newTestService(t, nil)

	escalated := make(chan events.TaskEscalatedEvent, 8)
	unsub := svc.opts.Bus.Subscribe(func(e events.TaskEscalatedEvent) { escalated <- e })
	defer unsub()

	job, err := svc.Submit(sh("trap '' INT TERM; echo ready; while :; do sleep 0.05; done"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		chunks, _ := svc.Output(job.ID, 0)
		return len(chunks) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Cancel(job.ID))
	job = waitJob(t, svc, job.ID)

	assert.True(t, job.Cancelled)
	assert.Equal(t, task.TerminationKill, job.TerminationMode)
	require.NotNil(t, job.ExitStatus)
	assert.Equal(t, 137, *job.ExitStatus)
	assert.Equal(t, "killed", job.Signal)

	var modes []string
	for len(modes) < 3 {
		select {
		case e := <-escalated:
			assert.Equal(t, job.ID, e.TaskID)
			modes = append(modes, e.Mode)
		case <-time.After(time.Second):
			t.Fatalf("missing escalation events, got %v", modes)
		}
	}
	assert.Equal(t, []string{"interrupt", "terminate", "kill"}, modes)

	require.ErrorIs(t, svc.Cancel(job.ID), task.ErrNotExecuting)
}

func TestCancelQueuedJob(t *testing.T) {
	svc := newTestService(t, func(o *Options) {
		o.Queue = queue.New(queue.Options{Executor: queue.NewGoExecutor(1), Logger: logging.Discard()})
	})

	blocker, err := svc.Submit(sh("sleep 0.3"))
	require.NoError(t, err)
	waiting, err := svc.Submit(sh("echo never"))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(waiting.ID))

	waitJob(t, svc, blocker.ID)
	job := waitJob(t, svc, waiting.ID)

	assert.True(t, job.Cancelled)
	assert.Nil(t, job.ExitStatus)
	assert.Nil(t, job.StartedAt)
	assert.Zero(t, job.OutputChunks)
}

func TestStateEventsCarryExitStatus(t *testing.T) {
	svc := newTestService(t, nil)

	states := make(chan events.TaskStateChangedEvent, 8)
	unsub := svc.opts.Bus.Subscribe(func(e events.TaskStateChangedEvent) { states <- e })
	defer unsub()

	job, err := svc.Submit(sh("exit 9"))
	require.NoError(t, err)
	waitJob(t, svc, job.ID)

	var got []events.TaskStateChangedEvent
	for len(got) < 2 {
		select {
		case e := <-states:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("missing state events, got %v", got)
		}
	}
	assert.Equal(t, "executing", got[0].State)
	assert.Nil(t, got[0].ExitStatus)
	assert.Equal(t, "finished", got[1].State)
	require.NotNil(t, got[1].ExitStatus)
	assert.Equal(t, 9, *got[1].ExitStatus)
}

func TestOutputEventsInOrder(t *testing.T) {
	svc := newTestService(t, nil)

	out := make(chan events.TaskOutputEvent, 64)
	unsub := svc.opts.Bus.Subscribe(func(e events.TaskOutputEvent) { out <- e })
	defer unsub()

	job, err := svc.Submit(Request{
		LaunchPath: "/bin/sh",
		Args:       []string{"-c", "printf 'a\\nb\\nc\\n'"},
		OutputMode: task.OutputLines,
	})
	require.NoError(t, err)
	waitJob(t, svc, job.ID)

	var lines []string
	for len(lines) < 3 {
		select {
		case e := <-out:
			assert.Equal(t, uint64(len(lines)+1), e.Seq)
			lines = append(lines, e.Chunk)
		case <-time.After(time.Second):
			t.Fatalf("missing output events, got %v", lines)
		}
	}
	assert.Equal(t, []string{"a\n", "b\n", "c\n"}, lines)
}

func TestRetentionEvictsOldest(t *testing.T) {
	svc := newTestService(t, func(o *Options) { o.Retain = 2 })

	var ids []string
	for range 3 {
		job, err := svc.Submit(sh("true"))
		require.NoError(t, err)
		waitJob(t, svc, job.ID)
		ids = append(ids, job.ID)
	}

	_, err := svc.Get(ids[0])
	require.ErrorIs(t, err, ErrJobNotFound)

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
}

func TestOutputBufferBound(t *testing.T) {
	svc := newTestService(t, func(o *Options) { o.OutputBuffer = 2 })

	job, err := svc.Submit(Request{
		LaunchPath: "/bin/sh",
		Args:       []string{"-c", "printf '1\\n2\\n3\\n4\\n'"},
		OutputMode: task.OutputLines,
	})
	require.NoError(t, err)
	job = waitJob(t, svc, job.ID)

	assert.Equal(t, 2, job.OutputChunks)
	assert.Equal(t, uint64(2), job.OutputDropped)

	chunks, err := svc.Output(job.ID, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "3\n", chunks[0].Data)
	assert.Equal(t, "4\n", chunks[1].Data)
}
