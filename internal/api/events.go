package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/taskworker/internal/api/models"
	"github.com/smazurov/taskworker/internal/events"
	"github.com/smazurov/taskworker/internal/task"
)

var taskEventTypes = map[string]any{
	"task-submitted":     events.TaskSubmittedEvent{},
	"task-state-changed": events.TaskStateChangedEvent{},
	"task-output":        events.TaskOutputEvent{},
	"task-escalated":     events.TaskEscalatedEvent{},
}

// registerSSERoutes registers the native Huma SSE endpoints.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time event stream for task submissions, state changes, output and escalation",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, taskEventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if s.eventBus == nil {
			return
		}

		eventCh := make(chan any, 64)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.TaskSubmittedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TaskStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TaskOutputEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TaskEscalatedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "task-events-stream",
		Method:      http.MethodGet,
		Path:        "/api/tasks/{id}/events",
		Summary:     "Task Event Stream",
		Description: "Replays retained output of one task, then follows it live. The stream ends with the finished state.",
		Tags:        []string{"events", "tasks"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, taskEventTypes, func(ctx context.Context, input *models.TaskIDInput, send sse.Sender) {
		s.streamTask(ctx, input.ID, send)
	})
}

// streamTask follows one task. Live output events can be dropped when the
// subscriber falls behind, so gaps are filled from the output buffer using
// the chunk sequence numbers.
func (s *Server) streamTask(ctx context.Context, id string, send sse.Sender) {
	done, err := s.jobs.Done(id)
	if err != nil {
		s.logger.Debug("Event stream requested for unknown task", "task_id", id)
		return
	}

	eventCh := make(chan any, 256)
	if s.eventBus != nil {
		unsubscribers := []func(){
			events.SubscribeTaskToChannel[events.TaskStateChangedEvent](s.eventBus, id, eventCh),
			events.SubscribeTaskToChannel[events.TaskOutputEvent](s.eventBus, id, eventCh),
			events.SubscribeTaskToChannel[events.TaskEscalatedEvent](s.eventBus, id, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()
	}

	var lastSeq uint64
	// flush sends buffered output after lastSeq.
	flush := func() bool {
		chunks, err := s.jobs.Output(id, lastSeq)
		if err != nil {
			return true
		}
		for _, c := range chunks {
			if err := send.Data(events.TaskOutputEvent{
				TaskID:    id,
				Seq:       c.Seq,
				Chunk:     c.Data,
				Timestamp: c.Timestamp.Format(time.RFC3339Nano),
			}); err != nil {
				return false
			}
			lastSeq = c.Seq
		}
		return true
	}

	if !flush() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-done:
			if !flush() {
				return
			}
			if final, ok := s.finalStateEvent(id); ok {
				_ = send.Data(final)
			}
			return

		case ev := <-eventCh:
			switch e := ev.(type) {
			case events.TaskOutputEvent:
				if e.Seq <= lastSeq {
					continue
				}
				if e.Seq != lastSeq+1 {
					if !flush() {
						return
					}
					continue
				}
				if err := send.Data(e); err != nil {
					return
				}
				lastSeq = e.Seq
			case events.TaskStateChangedEvent:
				// Sent after the last output chunk instead
				if e.State == task.StateFinished.String() {
					continue
				}
				if err := send.Data(e); err != nil {
					return
				}
			default:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	}
}

// finalStateEvent builds the closing state event from the job record.
func (s *Server) finalStateEvent(id string) (events.TaskStateChangedEvent, bool) {
	job, err := s.jobs.Get(id)
	if err != nil {
		return events.TaskStateChangedEvent{}, false
	}
	oldState := task.StateReady
	if job.StartedAt != nil {
		oldState = task.StateExecuting
	}
	ts := time.Now()
	if job.FinishedAt != nil {
		ts = *job.FinishedAt
	}
	return events.TaskStateChangedEvent{
		TaskID:     id,
		OldState:   oldState.String(),
		State:      task.StateFinished.String(),
		ExitStatus: job.ExitStatus,
		Timestamp:  ts.Format(time.RFC3339),
	}, true
}
