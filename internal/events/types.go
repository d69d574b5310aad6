package events

// Event type constants for kelindar/event.
const (
	TypeTaskSubmitted uint32 = iota + 1
	TypeTaskStateChanged
	TypeTaskOutput
	TypeTaskEscalated
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// TaskEvent is implemented by every event that belongs to a single task.
type TaskEvent interface {
	Event
	GetTaskID() string
}

// TaskSubmittedEvent is published when a task is accepted by the queue.
type TaskSubmittedEvent struct {
	TaskID     string   `json:"task_id" example:"5f0c6c7e-8a43-4c43-9d55-0e4f3f7f2b11" doc:"Task identifier"`
	LaunchPath string   `json:"launch_path" example:"/usr/bin/rsync" doc:"Executable path"`
	Args       []string `json:"args" doc:"Program arguments"`
	Timestamp  string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Submission timestamp"`
}

// Type returns the event type identifier for TaskSubmittedEvent.
func (e TaskSubmittedEvent) Type() uint32 { return TypeTaskSubmitted }

// GetTaskID returns the task the event belongs to.
func (e TaskSubmittedEvent) GetTaskID() string { return e.TaskID }

// TaskStateChangedEvent represents a lifecycle transition.
// ExitStatus is only meaningful when State is "finished".
type TaskStateChangedEvent struct {
	TaskID     string `json:"task_id" doc:"Task identifier"`
	OldState   string `json:"old_state" example:"ready" doc:"Previous state"`
	State      string `json:"state" example:"executing" doc:"New state"`
	ExitStatus *int   `json:"exit_status,omitempty" example:"0" doc:"Exit status, set once finished"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TaskStateChangedEvent.
func (e TaskStateChangedEvent) Type() uint32 { return TypeTaskStateChanged }

// GetTaskID returns the task the event belongs to.
func (e TaskStateChangedEvent) GetTaskID() string { return e.TaskID }

// TaskOutputEvent carries one chunk of a task's standard output.
type TaskOutputEvent struct {
	TaskID    string `json:"task_id" doc:"Task identifier"`
	Seq       uint64 `json:"seq" example:"42" doc:"Per-task sequence number for deduplication"`
	Chunk     string `json:"chunk" doc:"Output text"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Read timestamp"`
}

// Type returns the event type identifier for TaskOutputEvent.
func (e TaskOutputEvent) Type() uint32 { return TypeTaskOutput }

// GetTaskID returns the task the event belongs to.
func (e TaskOutputEvent) GetTaskID() string { return e.TaskID }

// TaskEscalatedEvent is published each time a cancellation step signals the process.
type TaskEscalatedEvent struct {
	TaskID    string `json:"task_id" doc:"Task identifier"`
	Mode      string `json:"mode" example:"terminate" doc:"Termination step applied"`
	Signal    string `json:"signal" example:"terminated" doc:"Signal sent to the process group"`
	Deadline  string `json:"deadline,omitempty" example:"2025-01-27T10:30:05Z" doc:"When the next step applies"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TaskEscalatedEvent.
func (e TaskEscalatedEvent) Type() uint32 { return TypeTaskEscalated }

// GetTaskID returns the task the event belongs to.
func (e TaskEscalatedEvent) GetTaskID() string { return e.TaskID }
