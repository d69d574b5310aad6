package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/taskworker/internal/api/models"
	"github.com/smazurov/taskworker/internal/jobs"
	"github.com/smazurov/taskworker/internal/output"
	"github.com/smazurov/taskworker/internal/queue"
	"github.com/smazurov/taskworker/internal/task"
)

// toHTTPError maps domain errors onto huma status errors.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, task.ErrInvalidConfiguration):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, task.ErrNotExecuting), errors.Is(err, queue.ErrInvalidTaskState):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}

func jobToAPI(job jobs.Job) models.TaskData {
	args := job.Args
	if args == nil {
		args = []string{}
	}
	return models.TaskData{
		ID:              job.ID,
		LaunchPath:      job.LaunchPath,
		Args:            args,
		State:           job.State.String(),
		TerminationMode: job.TerminationMode.String(),
		Cancelled:       job.Cancelled,
		PID:             job.PID,
		ExitStatus:      job.ExitStatus,
		Signal:          job.Signal,
		LaunchError:     job.LaunchError,
		SubmittedAt:     job.SubmittedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
		OutputChunks:    job.OutputChunks,
		OutputBytes:     job.OutputBytes,
		OutputDropped:   job.OutputDropped,
	}
}

func chunksToAPI(chunks []output.Chunk) []models.OutputChunk {
	result := make([]models.OutputChunk, len(chunks))
	for i, c := range chunks {
		result[i] = models.OutputChunk{
			Seq:       c.Seq,
			Data:      c.Data,
			Timestamp: c.Timestamp,
		}
	}
	return result
}

// registerTaskRoutes registers task management endpoints.
func (s *Server) registerTaskRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/api/tasks",
		Summary:       "Create Task",
		Description:   "Queue a program for execution. Returns immediately; the program runs in the background.",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Security:      withAuth(),
		Errors:        []int{400, 401, 409, 500},
	}, func(_ context.Context, input *models.TaskCreateRequest) (*models.TaskResponse, error) {
		// Empty leaves the service default in place
		var mode task.OutputMode
		if input.Body.OutputMode != "" {
			parsed, err := task.ParseOutputMode(input.Body.OutputMode)
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
			mode = parsed
		}

		job, err := s.jobs.Submit(jobs.Request{
			LaunchPath: input.Body.LaunchPath,
			Args:       input.Body.Args,
			OutputMode: mode,
		})
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.TaskResponse{Body: jobToAPI(*job)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/api/tasks",
		Summary:     "List Tasks",
		Description: "List queued, running and recently finished tasks",
		Tags:        []string{"tasks"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.TaskListResponse, error) {
		list := s.jobs.List()
		data := make([]models.TaskData, 0, len(list))
		for _, job := range list {
			data = append(data, jobToAPI(job))
		}
		return &models.TaskListResponse{
			Body: models.TaskListData{Tasks: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/api/tasks/{id}",
		Summary:     "Get Task",
		Description: "Get the current state of a task",
		Tags:        []string{"tasks"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.TaskIDInput) (*models.TaskResponse, error) {
		job, err := s.jobs.Get(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.TaskResponse{Body: jobToAPI(*job)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "cancel-task",
		Method:        http.MethodDelete,
		Path:          "/api/tasks/{id}",
		Summary:       "Cancel Task",
		Description:   "Request cancellation. The process is interrupted, then terminated, then killed until it exits.",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusAccepted,
		Security:      withAuth(),
		Errors:        []int{401, 404, 409},
	}, func(_ context.Context, input *models.TaskIDInput) (*models.TaskResponse, error) {
		if err := s.jobs.Cancel(input.ID); err != nil {
			return nil, toHTTPError(err)
		}
		job, err := s.jobs.Get(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.TaskResponse{Body: jobToAPI(*job)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-task-output",
		Method:      http.MethodGet,
		Path:        "/api/tasks/{id}/output",
		Summary:     "Get Task Output",
		Description: "Get retained output chunks, optionally only those after a sequence number",
		Tags:        []string{"tasks"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.TaskOutputInput) (*models.TaskOutputResponse, error) {
		chunks, err := s.jobs.Output(input.ID, input.Since)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.TaskOutputResponse{
			Body: models.TaskOutputData{
				TaskID: input.ID,
				Chunks: chunksToAPI(chunks),
				Count:  len(chunks),
			},
		}, nil
	})
}
