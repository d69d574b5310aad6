package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes for NATS topics.
const (
	SubjectTasksPrefix   = "taskworker.tasks"
	SubjectControlPrefix = "taskworker.control"
)

// ActionCancel is the only control action.
const ActionCancel = "cancel"

// SubjectTaskSubmitted returns the subject for a task's submission.
func SubjectTaskSubmitted(taskID string) string {
	return fmt.Sprintf("%s.%s.submitted", SubjectTasksPrefix, taskID)
}

// SubjectTaskState returns the subject for a task's state changes.
func SubjectTaskState(taskID string) string {
	return fmt.Sprintf("%s.%s.state", SubjectTasksPrefix, taskID)
}

// SubjectTaskOutput returns the subject for a task's output chunks.
func SubjectTaskOutput(taskID string) string {
	return fmt.Sprintf("%s.%s.output", SubjectTasksPrefix, taskID)
}

// SubjectTaskEscalation returns the subject for a task's termination steps.
func SubjectTaskEscalation(taskID string) string {
	return fmt.Sprintf("%s.%s.escalation", SubjectTasksPrefix, taskID)
}

// SubjectControlCancel returns the subject for cancel requests.
func SubjectControlCancel(taskID string) string {
	return fmt.Sprintf("%s.%s.cancel", SubjectControlPrefix, taskID)
}

// ControlMessage is a command sent to the task worker.
type ControlMessage struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// ControlReply answers a control request.
type ControlReply struct {
	TaskID string `json:"task_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Marshal serializes the reply to JSON.
func (r ControlReply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalReply deserializes a ControlReply from JSON.
func UnmarshalReply(data []byte) (ControlReply, error) {
	var r ControlReply
	err := json.Unmarshal(data, &r)
	return r, err
}
