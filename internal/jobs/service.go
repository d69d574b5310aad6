// Package jobs turns task requests into queued tasks and keeps their records
// and output history for the API.
package jobs

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/taskworker/internal/events"
	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/metrics"
	"github.com/smazurov/taskworker/internal/output"
	"github.com/smazurov/taskworker/internal/queue"
	"github.com/smazurov/taskworker/internal/task"
)

// DefaultRetain is the number of finished jobs kept when Options.Retain is zero.
const DefaultRetain = 100

// Request describes a program to run.
type Request struct {
	LaunchPath string
	Args       []string
	// OutputMode overrides the service default when set.
	OutputMode task.OutputMode
}

// Job is a point-in-time view of a submitted task.
type Job struct {
	ID              string
	LaunchPath      string
	Args            []string
	State           task.State
	TerminationMode task.TerminationMode
	Cancelled       bool
	PID             int
	ExitStatus      *int
	Signal          string
	LaunchError     string
	SubmittedAt     time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	OutputChunks    int
	OutputBytes     int64
	OutputDropped   uint64
}

// Options configures a Service.
type Options struct {
	Queue   *queue.Queue
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  logging.Logger

	InterruptTimeout time.Duration
	TerminateTimeout time.Duration
	OutputMode       task.OutputMode

	// Retain bounds how many finished jobs are remembered, oldest evicted first.
	Retain int
	// OutputBuffer bounds how many output chunks are kept per job.
	OutputBuffer int
}

// record is the service's bookkeeping for one job.
type record struct {
	task        *task.Task
	output      *output.Buffer
	submittedAt time.Time

	mu         sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
}

// Service runs jobs on a queue and tracks them.
type Service struct {
	opts   Options
	logger logging.Logger

	mu       sync.RWMutex
	jobs     map[string]*record
	finished []string // IDs in completion order
}

// NewService creates a job service. Options.Queue is required.
func NewService(opts Options) *Service {
	if opts.Queue == nil {
		panic("jobs.Options.Queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("jobs")
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = output.DefaultSize
	}
	if opts.OutputMode == "" {
		opts.OutputMode = task.OutputRaw
	}

	return &Service{
		opts:   opts,
		logger: opts.Logger,
		jobs:   make(map[string]*record),
	}
}

// Submit creates a task for req and hands it to the queue.
func (s *Service) Submit(req Request) (*Job, error) {
	mode := req.OutputMode
	if mode == "" {
		mode = s.opts.OutputMode
	}

	rec := &record{
		output:      output.NewBuffer(s.opts.OutputBuffer),
		submittedAt: time.Now(),
	}

	t, err := task.New(req.LaunchPath, req.Args,
		func(chunk string) { s.handleOutput(rec, chunk) },
		nil,
		task.WithLogger(logging.GetLogger("task")),
		task.WithEscalationTimeouts(s.opts.InterruptTimeout, s.opts.TerminateTimeout),
		task.WithOutputMode(mode),
		task.WithStateObserver(func(t *task.Task, oldState, newState task.State) {
			s.handleStateChange(rec, t, oldState, newState)
		}),
		task.WithEscalationObserver(s.handleEscalation),
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	rec.task = t

	s.mu.Lock()
	s.jobs[t.ID()] = rec
	s.mu.Unlock()

	if err := s.opts.Queue.Submit(t); err != nil {
		s.mu.Lock()
		delete(s.jobs, t.ID())
		s.mu.Unlock()
		return nil, fmt.Errorf("submit task: %w", err)
	}

	s.logger.Info("Job submitted", "task_id", t.ID(), "launch_path", req.LaunchPath, "args", len(req.Args))
	return rec.snapshot(), nil
}

// Get returns a job by ID.
func (s *Service) Get(id string) (*Job, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.snapshot(), nil
}

// List returns all known jobs, oldest submission first.
func (s *Service) List() []Job {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	slices.SortFunc(recs, func(a, b *record) int {
		return cmp.Compare(a.submittedAt.UnixNano(), b.submittedAt.UnixNano())
	})

	result := make([]Job, 0, len(recs))
	for _, rec := range recs {
		result = append(result, *rec.snapshot())
	}
	return result
}

// Cancel requests termination of a job. A job still waiting in the queue is
// finished without being launched.
func (s *Service) Cancel(id string) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}
	err = rec.task.Cancel()
	if errors.Is(err, task.ErrNotExecuting) && !rec.task.IsFinished() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	s.logger.Info("Job cancel requested", "task_id", id)
	return nil
}

// Output returns retained output chunks with a sequence number above since.
func (s *Service) Output(id string, since uint64) ([]output.Chunk, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.output.Since(since), nil
}

// Done returns a channel closed when the job finishes.
func (s *Service) Done(id string) (<-chan struct{}, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.task.Done(), nil
}

func (s *Service) lookup(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return rec, nil
}

func (s *Service) handleOutput(rec *record, chunk string) {
	c := rec.output.Write(chunk)
	s.opts.Metrics.OutputDelivered(len(chunk))
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(events.TaskOutputEvent{
			TaskID:    rec.task.ID(),
			Seq:       c.Seq,
			Chunk:     chunk,
			Timestamp: c.Timestamp.Format(time.RFC3339Nano),
		})
	}
}

func (s *Service) handleStateChange(rec *record, t *task.Task, oldState, newState task.State) {
	now := time.Now()
	rec.mu.Lock()
	switch newState {
	case task.StateExecuting:
		rec.startedAt = now
	case task.StateFinished:
		rec.finishedAt = now
	}
	rec.mu.Unlock()

	if s.opts.Bus != nil {
		ev := events.TaskStateChangedEvent{
			TaskID:    t.ID(),
			OldState:  oldState.String(),
			State:     newState.String(),
			Timestamp: now.Format(time.RFC3339),
		}
		if newState == task.StateFinished && oldState == task.StateExecuting {
			status := t.ExitStatus()
			ev.ExitStatus = &status
		}
		s.opts.Bus.Publish(ev)
	}

	if newState == task.StateFinished {
		s.logger.Info("Job finished", "task_id", t.ID(), "exit_status", t.ExitStatus(), "cancelled", t.IsCancelled())
		s.retire(t.ID())
	}
}

func (s *Service) handleEscalation(t *task.Task, mode task.TerminationMode) {
	s.opts.Metrics.Escalated(mode.String())
	if s.opts.Bus == nil {
		return
	}
	ev := events.TaskEscalatedEvent{
		TaskID:    t.ID(),
		Mode:      mode.String(),
		Signal:    mode.Signal().String(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if deadline, ok := t.TerminationDeadline(); ok {
		ev.Deadline = deadline.Format(time.RFC3339Nano)
	}
	s.opts.Bus.Publish(ev)
}

// retire records a finished job and evicts the oldest beyond the retain limit.
func (s *Service) retire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = append(s.finished, id)
	for len(s.finished) > s.opts.Retain {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.jobs, oldest)
		s.logger.Debug("Evicted finished job", "task_id", oldest)
	}
}

func (rec *record) snapshot() *Job {
	t := rec.task
	job := &Job{
		ID:              t.ID(),
		LaunchPath:      t.LaunchPath(),
		Args:            t.Arguments(),
		State:           t.State(),
		TerminationMode: t.TerminationMode(),
		Cancelled:       t.IsCancelled(),
		PID:             t.PID(),
		SubmittedAt:     rec.submittedAt,
		OutputChunks:    rec.output.Count(),
		OutputBytes:     rec.output.Bytes(),
		OutputDropped:   rec.output.Dropped(),
	}

	rec.mu.Lock()
	if !rec.startedAt.IsZero() {
		started := rec.startedAt
		job.StartedAt = &started
	}
	if !rec.finishedAt.IsZero() {
		finished := rec.finishedAt
		job.FinishedAt = &finished
	}
	rec.mu.Unlock()

	// A job cancelled before launch finishes without a status.
	if job.State == task.StateFinished && (t.ExitStatus() != -1 || t.LaunchError() != nil) {
		status := t.ExitStatus()
		job.ExitStatus = &status
	}
	if t.Signaled() {
		job.Signal = t.Signal().String()
	}
	if err := t.LaunchError(); err != nil {
		job.LaunchError = err.Error()
	}
	return job
}
