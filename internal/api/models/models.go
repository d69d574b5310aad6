package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Active  int    `json:"active_tasks" example:"3" doc:"Tasks queued or executing"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Task models
type TaskCreateData struct {
	LaunchPath string   `json:"launch_path" example:"/usr/bin/rsync" doc:"Path to the executable"`
	Args       []string `json:"args,omitempty" doc:"Program arguments"`
	OutputMode string   `json:"output_mode,omitempty" enum:"raw,line" example:"raw" doc:"Output delivery: raw read chunks or whole lines"`
}

type TaskCreateRequest struct {
	Body TaskCreateData
}

type TaskData struct {
	ID              string     `json:"id" example:"5f0c6c7e-8a43-4c43-9d55-0e4f3f7f2b11" doc:"Task identifier"`
	LaunchPath      string     `json:"launch_path" example:"/usr/bin/rsync" doc:"Executable path"`
	Args            []string   `json:"args" doc:"Program arguments"`
	State           string     `json:"state" example:"executing" doc:"Lifecycle state: ready, executing or finished"`
	TerminationMode string     `json:"termination_mode" example:"none" doc:"Last termination step applied: none, interrupt, terminate or kill"`
	Cancelled       bool       `json:"cancelled" doc:"Whether cancellation was requested"`
	PID             int        `json:"pid" example:"4242" doc:"Process ID, -1 if never launched"`
	ExitStatus      *int       `json:"exit_status,omitempty" example:"0" doc:"Exit code, 128+signal if killed by a signal, -1 if launch failed"`
	Signal          string     `json:"signal,omitempty" example:"killed" doc:"Signal that ended the process"`
	LaunchError     string     `json:"launch_error,omitempty" doc:"Why the program could not be started"`
	SubmittedAt     time.Time  `json:"submitted_at" doc:"When the task was accepted"`
	StartedAt       *time.Time `json:"started_at,omitempty" doc:"When the task left the queue"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" doc:"When the task finished"`
	OutputChunks    int        `json:"output_chunks" example:"12" doc:"Output chunks retained"`
	OutputBytes     int64      `json:"output_bytes" example:"2048" doc:"Total output bytes produced"`
	OutputDropped   uint64     `json:"output_dropped" example:"0" doc:"Output chunks evicted from the buffer"`
}

type TaskResponse struct {
	Body TaskData
}

type TaskListData struct {
	Tasks []TaskData `json:"tasks" doc:"Known tasks, oldest first"`
	Count int        `json:"count" example:"2" doc:"Number of tasks"`
}

type TaskListResponse struct {
	Body TaskListData
}

type TaskIDInput struct {
	ID string `path:"id" doc:"Task identifier"`
}

type TaskOutputInput struct {
	ID    string `path:"id" doc:"Task identifier"`
	Since uint64 `query:"since" doc:"Only return chunks with a greater sequence number"`
}

type OutputChunk struct {
	Seq       uint64    `json:"seq" example:"1" doc:"Chunk sequence number"`
	Data      string    `json:"data" doc:"Output text"`
	Timestamp time.Time `json:"timestamp" doc:"When the chunk was read"`
}

type TaskOutputData struct {
	TaskID string        `json:"task_id" doc:"Task identifier"`
	Chunks []OutputChunk `json:"chunks" doc:"Retained output chunks in order"`
	Count  int           `json:"count" example:"3" doc:"Number of chunks returned"`
}

type TaskOutputResponse struct {
	Body TaskOutputData
}
